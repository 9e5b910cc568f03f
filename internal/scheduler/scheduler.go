// Package scheduler drives periodic execution of fetch passes.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"fuelwatcher/internal/config"
)

// PassFunc executes one fetch-detect-notify pass.
type PassFunc func(ctx context.Context, fireAt time.Time) error

// Spec resolves the next fire instant after a given time.
type Spec interface {
	Next(t time.Time) time.Time
}

// intervalSpec fires every interval from a fixed anchor.
type intervalSpec struct {
	anchor   time.Time
	interval time.Duration
}

func (s intervalSpec) Next(t time.Time) time.Time {
	if t.Before(s.anchor) {
		return s.anchor.Add(s.interval)
	}
	elapsed := t.Sub(s.anchor)
	k := elapsed/s.interval + 1
	return s.anchor.Add(k * s.interval)
}

// cronSpec evaluates a cron schedule in a fixed timezone, independent of the
// host process's own timezone.
type cronSpec struct {
	schedule cron.Schedule
	loc      *time.Location
}

func (s cronSpec) Next(t time.Time) time.Time {
	return s.schedule.Next(t.In(s.loc))
}

// NewSpec builds a Spec from configuration. Cron wins over interval when both
// are set. The expression and timezone were already validated at config load.
func NewSpec(cfg config.ScheduleConfig, now time.Time) (Spec, error) {
	if cfg.Cron != "" {
		schedule, err := config.CronParser.Parse(cfg.Cron)
		if err != nil {
			return nil, err
		}
		loc := time.UTC
		if cfg.Timezone != "" {
			loc, err = time.LoadLocation(cfg.Timezone)
			if err != nil {
				return nil, err
			}
		}
		return cronSpec{schedule: schedule, loc: loc}, nil
	}
	return intervalSpec{anchor: now, interval: cfg.Interval}, nil
}

// Scheduler runs passes at the instants the Spec resolves. Passes never
// overlap: fire instants elapsing while a pass runs are skipped, not queued.
type Scheduler struct {
	spec       Spec
	runOnStart bool
	logger     zerolog.Logger

	mu         sync.RWMutex
	running    bool
	lastPassAt *time.Time
	nextPassAt time.Time
}

// New constructs a Scheduler.
func New(spec Spec, runOnStart bool, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		spec:       spec,
		runOnStart: runOnStart,
		logger:     logger.With().Str("component", "scheduler").Logger(),
	}
}

// Run blocks, invoking the pass at each scheduled instant until ctx is
// cancelled. A stop signal interrupts the timer wait immediately; an in-flight
// pass is allowed to complete its cycle before Run returns.
func (s *Scheduler) Run(ctx context.Context, pass PassFunc) error {
	s.setRunning(true)
	defer s.setRunning(false)

	if s.runOnStart {
		s.executePass(ctx, pass, time.Now())
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	next := s.spec.Next(time.Now())
	for {
		s.setNext(next)
		delay := time.Until(next)
		if delay < 0 {
			delay = 0
		}

		timer := time.NewTimer(delay)
		s.logger.Debug().Time("next_pass", next).Msg("waiting for next pass")

		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info().Msg("scheduler stopped")
			return ctx.Err()
		case <-timer.C:
		}

		s.executePass(ctx, pass, next)

		if ctx.Err() != nil {
			s.logger.Info().Msg("scheduler stopped after in-flight pass")
			return ctx.Err()
		}

		now := time.Now()
		candidate := s.spec.Next(next)
		skipped := 0
		for !candidate.After(now) {
			skipped++
			candidate = s.spec.Next(candidate)
		}
		if skipped > 0 {
			s.logger.Warn().
				Int("skipped_fires", skipped).
				Time("next_pass", candidate).
				Msg("pass overran schedule, skipping missed fires")
		}
		next = candidate
	}
}

func (s *Scheduler) executePass(ctx context.Context, pass PassFunc, fireAt time.Time) {
	now := time.Now()
	s.mu.Lock()
	s.lastPassAt = &now
	s.mu.Unlock()

	s.logger.Info().Time("fire_at", fireAt).Msg("executing scheduled pass")

	// The pass runs on an uncancellable context so a stop signal drains the
	// current cycle instead of leaving partial writes behind.
	passCtx := context.WithoutCancel(ctx)
	if err := pass(passCtx, fireAt); err != nil {
		s.logger.Error().Err(err).Time("fire_at", fireAt).Msg("pass failed")
	}
}

func (s *Scheduler) setRunning(v bool) {
	s.mu.Lock()
	s.running = v
	s.mu.Unlock()
}

func (s *Scheduler) setNext(t time.Time) {
	s.mu.Lock()
	s.nextPassAt = t
	s.mu.Unlock()
}

// IsRunning reports whether the scheduler loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// LastPassAt returns when the last pass started, if any.
func (s *Scheduler) LastPassAt() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastPassAt
}

// NextPassAt returns the next scheduled fire instant.
func (s *Scheduler) NextPassAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextPassAt
}
