// Package service wires the fetch-detect-notify pipeline executed on every
// scheduler pass.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"fuelwatcher/internal/cache"
	"fuelwatcher/internal/config"
	"fuelwatcher/internal/detector"
	"fuelwatcher/internal/model"
	"fuelwatcher/internal/notifier"
	"fuelwatcher/internal/source"
	"fuelwatcher/internal/storage"
	"fuelwatcher/internal/web"
)

// PriceFetcher retrieves normalized readings for a set of stations.
type PriceFetcher interface {
	Fetch(ctx context.Context, stationIDs []model.StationID) ([]model.PriceReading, error)
}

// Service orchestrates fetching, change detection, persistence, and fan-out.
type Service struct {
	fetcher  PriceFetcher
	detector *detector.Detector
	cache    *cache.Cache
	stations config.StationProvider
	notifier notifier.Notifier
	locker   storage.AdvisoryLocker
	gate     *storage.Gate
	metrics  *web.Metrics
	logger   zerolog.Logger
	lockKey  int64
}

// New constructs the monitoring service. notifier, locker, and metrics may be
// nil when the corresponding subsystem is not configured.
func New(
	fetcher PriceFetcher,
	det *detector.Detector,
	c *cache.Cache,
	stations config.StationProvider,
	n notifier.Notifier,
	locker storage.AdvisoryLocker,
	gate *storage.Gate,
	metrics *web.Metrics,
	lockKey int64,
	logger zerolog.Logger,
) *Service {
	return &Service{
		fetcher:  fetcher,
		detector: det,
		cache:    c,
		stations: stations,
		notifier: n,
		locker:   locker,
		gate:     gate,
		metrics:  metrics,
		lockKey:  lockKey,
		logger:   logger.With().Str("component", "service").Logger(),
	}
}

// Reconcile seeds the last-known-price cache from the store. Called once at
// startup before the first pass.
func (s *Service) Reconcile(ctx context.Context) error {
	snap := config.BuildSnapshot(s.stations.MonitoredStations())
	return s.detector.Reconcile(ctx, snap.StationIDs)
}

// RunPass executes one fetch-detect-notify cycle. Per-station and per-key
// failures are isolated; the cycle-level summary is the unit surfaced to
// operators. A failure at the fetch stage leaves cache and store untouched.
func (s *Service) RunPass(ctx context.Context, fireAt time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("fire_at", fireAt).Msg("skipping pass, advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	release, ok := s.gate.TryAcquire()
	if !ok {
		s.logger.Warn().Time("fire_at", fireAt).Msg("skipping pass, store held by restore")
		return nil
	}
	defer release()

	// Configuration is snapshotted per pass so station edits take effect on
	// the next cycle without a restart.
	snap := config.BuildSnapshot(s.stations.MonitoredStations())
	if len(snap.StationIDs) == 0 {
		s.logger.Info().Msg("no stations configured, nothing to do")
		return nil
	}

	readings, err := s.fetcher.Fetch(ctx, snap.StationIDs)
	if err != nil {
		s.recordSourceError(err)
		s.recordPass("failed", detector.CycleSummary{})
		return fmt.Errorf("fetch prices: %w", err)
	}

	summary := s.processReadings(ctx, snap, readings)

	s.recordPass("complete", summary)
	s.logger.Info().
		Int("fetched", summary.Fetched).
		Int("written", summary.Written).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Msg("pass completed")
	return nil
}

func (s *Service) processReadings(ctx context.Context, snap config.Snapshot, readings []model.PriceReading) detector.CycleSummary {
	// Fetched counts everything the source returned, including readings the
	// interest set filters out.
	summary := detector.CycleSummary{Fetched: len(readings)}

	for _, reading := range readings {
		if !snap.Contains(reading.Key) {
			if !reading.Key.Fuel.Known() {
				s.logger.Debug().
					Str("key", reading.Key.String()).
					Msg("dropping unknown fuel code outside interest set")
			}
			continue
		}

		outcome, trend, err := s.detector.Process(ctx, reading)
		if err != nil {
			summary.Failed++
			s.logger.Error().Err(err).Str("key", reading.Key.String()).Msg("failed to process reading")
			continue
		}

		switch outcome {
		case detector.Written:
			summary.Written++
			s.notifyChange(ctx, reading, trend)
		case detector.Skipped:
			summary.Skipped++
		}
	}

	return summary
}

// notifyChange publishes a confirmed change. Notifier failures are logged and
// swallowed; they never roll back or retry the store write.
func (s *Service) notifyChange(ctx context.Context, reading model.PriceReading, trend model.Trend) {
	if s.notifier == nil {
		return
	}

	point := model.PricePoint{
		Key:            reading.Key,
		StationName:    reading.StationName,
		StationAddress: reading.StationAddress,
		Price:          reading.Price,
		ObservedAt:     reading.ObservedAt,
	}
	if err := s.notifier.PublishChange(ctx, point, trend); err != nil {
		if s.metrics != nil {
			s.metrics.RecordNotifyError()
		}
		s.logger.Warn().Err(err).Str("key", reading.Key.String()).Msg("notify failed")
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func (s *Service) recordSourceError(err error) {
	s.logger.Error().Err(err).Msg("fetch failed, cache and store untouched")
	if s.metrics == nil {
		return
	}
	switch {
	case errors.Is(err, source.ErrProtocol):
		s.metrics.RecordSourceError("protocol")
	case errors.Is(err, source.ErrUnavailable):
		s.metrics.RecordSourceError("unavailable")
	default:
		s.metrics.RecordSourceError("other")
	}
}

func (s *Service) recordPass(status string, summary detector.CycleSummary) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordPass(status, summary.Written, summary.Skipped, summary.Failed, float64(time.Now().Unix()))
	s.metrics.RecordCachedKeys(s.cache.Len())
}
