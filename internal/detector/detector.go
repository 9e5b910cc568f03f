// Package detector decides which readings represent a price change worth
// persisting, and writes them.
package detector

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"fuelwatcher/internal/cache"
	"fuelwatcher/internal/model"
	"fuelwatcher/internal/storage"
)

// Outcome classifies the result of processing one reading.
type Outcome int

const (
	// Skipped means the price matches the last persisted one.
	Skipped Outcome = iota
	// Written means a new point was appended to the change log.
	Written
)

// String implements fmt.Stringer.
func (o Outcome) String() string {
	if o == Written {
		return "written"
	}
	return "skipped"
}

// CycleSummary aggregates per-pass outcomes for operator logs.
type CycleSummary struct {
	Fetched int
	Written int
	Skipped int
	Failed  int
}

// Detector owns the last-known-price cache and routes all writes through the
// single persist-then-cache-update step.
type Detector struct {
	store  storage.PricePointStore
	cache  *cache.Cache
	logger zerolog.Logger
}

// New constructs a Detector.
func New(store storage.PricePointStore, c *cache.Cache, logger zerolog.Logger) *Detector {
	return &Detector{
		store:  store,
		cache:  c,
		logger: logger.With().Str("component", "detector").Logger(),
	}
}

// Reconcile seeds the cache from the store's latest point per key. Called at
// startup so restarts neither duplicate nor miss writes.
func (d *Detector) Reconcile(ctx context.Context, stationIDs []model.StationID) error {
	latest, err := d.store.LatestPerKey(ctx, stationIDs)
	if err != nil {
		return fmt.Errorf("reconcile cache from store: %w", err)
	}
	d.cache.Load(latest)
	d.logger.Info().Int("keys", len(latest)).Msg("last-known-price cache reconciled from store")
	return nil
}

// Process applies the change rule to one reading. A reading is written when
// no last-known price exists for its key or when the price differs exactly
// from the cached value; otherwise it is skipped. The cache is updated only
// after the store write succeeds, so the cache never reflects optimistic
// state. The returned trend compares against the price preceding this write.
func (d *Detector) Process(ctx context.Context, reading model.PriceReading) (Outcome, model.Trend, error) {
	last, known := d.cache.Get(reading.Key)
	if known && reading.Price.Equal(last.Price) {
		d.logger.Debug().
			Str("key", reading.Key.String()).
			Str("price", reading.Price.String()).
			Msg("price unchanged, skipping")
		return Skipped, model.TrendStable, nil
	}

	point := model.PricePoint{
		Key:            reading.Key,
		StationName:    reading.StationName,
		StationAddress: reading.StationAddress,
		Price:          reading.Price,
		ObservedAt:     reading.ObservedAt,
	}

	if err := d.store.InsertPoint(ctx, point); err != nil {
		return Skipped, model.TrendStable, fmt.Errorf("persist price point %s: %w", reading.Key, err)
	}

	trend := model.TrendStable
	if known {
		trend = model.ClassifyTrend(reading.Price, last.Price)
	}

	d.cache.Put(reading.Key, reading.Price, reading.ObservedAt)

	d.logger.Info().
		Str("key", reading.Key.String()).
		Str("price", reading.Price.String()).
		Str("trend", string(trend)).
		Msg("price change recorded")

	return Written, trend, nil
}
