package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"fuelwatcher/internal/config"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestIntervalSpecNext(t *testing.T) {
	anchor := time.Date(2026, 8, 15, 7, 0, 0, 0, time.UTC)
	spec := intervalSpec{anchor: anchor, interval: 30 * time.Minute}

	next := spec.Next(anchor)
	if !next.Equal(anchor.Add(30 * time.Minute)) {
		t.Fatalf("next fire from the anchor should be one interval out, got %s", next)
	}

	// A query mid-interval still lands on the anchored grid.
	next = spec.Next(anchor.Add(42 * time.Minute))
	if !next.Equal(anchor.Add(60 * time.Minute)) {
		t.Fatalf("next fire should stay on the anchor grid, got %s", next)
	}

	next = spec.Next(anchor.Add(-time.Hour))
	if !next.Equal(anchor.Add(30 * time.Minute)) {
		t.Fatalf("queries before the anchor resolve to the first fire, got %s", next)
	}
}

func TestCronSpecEvaluatesInTimezone(t *testing.T) {
	spec, err := NewSpec(config.ScheduleConfig{Cron: "30 6 * * *", Timezone: "Australia/Sydney"}, time.Now())
	if err != nil {
		t.Fatal(err)
	}

	// 2026-01-10 00:00 UTC is 11:00 in Sydney (AEDT, UTC+11), so the next
	// 06:30 Sydney fire is the following day, 19:30 UTC.
	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	want := time.Date(2026, 1, 10, 19, 30, 0, 0, time.UTC)
	if next := spec.Next(now); !next.Equal(want) {
		t.Fatalf("expected fire at %s, got %s", want, next.UTC())
	}
}

func TestCronSpecAcrossDSTTransitions(t *testing.T) {
	spec, err := NewSpec(config.ScheduleConfig{Cron: "30 * * * *", Timezone: "Australia/Sydney"}, time.Now())
	if err != nil {
		t.Fatal(err)
	}

	step := func(from time.Time, want []time.Time) {
		t.Helper()
		fire := from
		for i, w := range want {
			fire = spec.Next(fire)
			if !fire.Equal(w) {
				t.Fatalf("fire %d: expected %s, got %s", i, w, fire.UTC())
			}
		}
	}

	// Clocks go back 2026-04-05 03:00 AEDT -> 02:00 AEST. The 02:30 wall time
	// occurs twice; the hourly cadence stays one real hour, no double-fire at
	// a single instant and no lost hour.
	step(time.Date(2026, 4, 4, 13, 0, 0, 0, time.UTC), []time.Time{
		time.Date(2026, 4, 4, 13, 30, 0, 0, time.UTC), // 00:30 AEDT
		time.Date(2026, 4, 4, 14, 30, 0, 0, time.UTC), // 01:30 AEDT
		time.Date(2026, 4, 4, 15, 30, 0, 0, time.UTC), // 02:30 AEDT
		time.Date(2026, 4, 4, 16, 30, 0, 0, time.UTC), // 02:30 AEST, repeated wall hour
		time.Date(2026, 4, 4, 17, 30, 0, 0, time.UTC), // 03:30 AEST
	})

	// Clocks go forward 2026-10-04 02:00 AEST -> 03:00 AEDT. The 02:30 wall
	// time never exists; the next fire is 03:30 with no extra hour skipped.
	step(time.Date(2026, 10, 3, 14, 0, 0, 0, time.UTC), []time.Time{
		time.Date(2026, 10, 3, 14, 30, 0, 0, time.UTC), // 00:30 AEST
		time.Date(2026, 10, 3, 15, 30, 0, 0, time.UTC), // 01:30 AEST
		time.Date(2026, 10, 3, 16, 30, 0, 0, time.UTC), // 03:30 AEDT
		time.Date(2026, 10, 3, 17, 30, 0, 0, time.UTC), // 04:30 AEDT
	})
}

func TestNewSpecCronWinsOverInterval(t *testing.T) {
	spec, err := NewSpec(config.ScheduleConfig{Cron: "0 * * * *", Interval: time.Minute}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := spec.(cronSpec); !ok {
		t.Fatalf("cron should win when both are set, got %T", spec)
	}

	if _, err := NewSpec(config.ScheduleConfig{Cron: "not a cron"}, time.Now()); err == nil {
		t.Fatal("invalid cron expression should error")
	}
	if _, err := NewSpec(config.ScheduleConfig{Cron: "0 * * * *", Timezone: "Mars/Olympus"}, time.Now()); err == nil {
		t.Fatal("unknown timezone should error")
	}
}

func TestRunOnStartAndStop(t *testing.T) {
	var passes atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())

	sched := New(intervalSpec{anchor: time.Now(), interval: time.Hour}, true, testLogger())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sched.Run(ctx, func(context.Context, time.Time) error {
			passes.Add(1)
			return nil
		})
	}()

	deadline := time.After(2 * time.Second)
	for passes.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("run-on-start pass never executed")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop on cancellation")
	}
	if passes.Load() != 1 {
		t.Fatalf("expected exactly the startup pass, got %d", passes.Load())
	}
}

func TestOverlappingFiresAreSkippedNotQueued(t *testing.T) {
	var passes atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := New(intervalSpec{anchor: time.Now(), interval: 10 * time.Millisecond}, false, testLogger())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sched.Run(ctx, func(context.Context, time.Time) error {
			passes.Add(1)
			// Overrun several fire instants.
			time.Sleep(80 * time.Millisecond)
			return nil
		})
	}()

	time.Sleep(200 * time.Millisecond)
	cancel()
	<-done

	// 200ms holds ~20 fire instants; an overlapping scheduler would queue
	// them all, a skipping one runs at most a handful.
	if got := passes.Load(); got == 0 || got > 4 {
		t.Fatalf("expected skipped fires rather than a queue, got %d passes", got)
	}
}
