package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fuelwatcher/internal/cache"
	"fuelwatcher/internal/config"
	"fuelwatcher/internal/detector"
	"fuelwatcher/internal/model"
	"fuelwatcher/internal/storage"
)

type fakeFetcher struct {
	readings []model.PriceReading
	err      error
	calls    int
}

func (f *fakeFetcher) Fetch(_ context.Context, _ []model.StationID) ([]model.PriceReading, error) {
	f.calls++
	return f.readings, f.err
}

type eventStore struct {
	events *[]string
}

func (s eventStore) InsertPoint(_ context.Context, point model.PricePoint) error {
	*s.events = append(*s.events, "insert "+point.Key.String())
	return nil
}

func (s eventStore) LatestPerKey(_ context.Context, _ []model.StationID) ([]storage.LatestPrice, error) {
	return nil, nil
}

func (s eventStore) PointBefore(_ context.Context, _ model.Key, _ time.Time) (*model.PricePoint, error) {
	return nil, nil
}

func (s eventStore) ListPointsBetween(_ context.Context, _ model.Key, _, _ time.Time) ([]model.PricePoint, error) {
	return nil, nil
}

func (s eventStore) ListRecentPoints(_ context.Context, _ int) ([]model.PricePoint, error) {
	return nil, nil
}

func (s eventStore) CountPoints(_ context.Context) (int64, error) {
	return 0, nil
}

type eventNotifier struct {
	events *[]string
	err    error
}

func (n eventNotifier) PublishChange(_ context.Context, point model.PricePoint, trend model.Trend) error {
	*n.events = append(*n.events, "notify "+point.Key.String()+" "+string(trend))
	return n.err
}

func (n eventNotifier) Close() {}

type stationList []config.StationConfig

func (s stationList) MonitoredStations() []config.StationConfig {
	return s
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func testReading(station int, fuel model.FuelType, price float64) model.PriceReading {
	return model.PriceReading{
		Key:        model.Key{Station: model.StationID(station), Fuel: fuel},
		Price:      decimal.NewFromFloat(price),
		ObservedAt: time.Now().UTC(),
	}
}

func newTestService(fetcher *fakeFetcher, events *[]string, notifyErr error) (*Service, *cache.Cache) {
	c := cache.New()
	det := detector.New(eventStore{events: events}, c, testLogger())
	stations := stationList{{ID: 100, FuelTypes: []string{"E10", "P98"}}}
	n := eventNotifier{events: events, err: notifyErr}
	svc := New(fetcher, det, c, stations, n, nil, storage.NewGate(), nil, 0, testLogger())
	return svc, c
}

func TestRunPassNotifiesAfterPersist(t *testing.T) {
	var events []string
	fetcher := &fakeFetcher{readings: []model.PriceReading{
		testReading(100, model.FuelE10, 179.9),
	}}
	svc, _ := newTestService(fetcher, &events, nil)

	if err := svc.RunPass(context.Background(), time.Now()); err != nil {
		t.Fatal(err)
	}

	want := []string{"insert 100/E10", "notify 100/E10 stable"}
	if len(events) != len(want) {
		t.Fatalf("unexpected event sequence %v", events)
	}
	for i, e := range want {
		if events[i] != e {
			t.Fatalf("event[%d] = %q, want %q", i, events[i], e)
		}
	}
}

func TestRunPassSkipsOutsideInterestSet(t *testing.T) {
	var events []string
	fetcher := &fakeFetcher{readings: []model.PriceReading{
		testReading(100, model.FuelE10, 179.9),
		testReading(100, model.FuelLPG, 95.0),  // fuel not monitored at this station
		testReading(999, model.FuelE10, 170.0), // station not monitored
		testReading(100, "XZ9", 1.0),           // unknown fuel code
	}}
	svc, _ := newTestService(fetcher, &events, nil)

	if err := svc.RunPass(context.Background(), time.Now()); err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("only the monitored key should flow through, got %v", events)
	}
}

func TestCycleSummaryCountsAllFetchedReadings(t *testing.T) {
	var events []string
	readings := []model.PriceReading{
		testReading(100, model.FuelE10, 179.9),
		testReading(100, model.FuelLPG, 95.0),
		testReading(999, model.FuelE10, 170.0),
	}
	svc, _ := newTestService(&fakeFetcher{readings: readings}, &events, nil)

	snap := config.BuildSnapshot(stationList{{ID: 100, FuelTypes: []string{"E10"}}})
	summary := svc.processReadings(context.Background(), snap, readings)

	if summary.Fetched != 3 {
		t.Fatalf("fetched should count everything the source returned, got %d", summary.Fetched)
	}
	if summary.Written != 1 || summary.Skipped != 0 || summary.Failed != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestRunPassUnchangedPriceNotNotified(t *testing.T) {
	var events []string
	fetcher := &fakeFetcher{readings: []model.PriceReading{
		testReading(100, model.FuelE10, 179.9),
	}}
	svc, _ := newTestService(fetcher, &events, nil)
	ctx := context.Background()

	if err := svc.RunPass(ctx, time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := svc.RunPass(ctx, time.Now()); err != nil {
		t.Fatal(err)
	}

	// Second pass sees the same price: no insert, no notification.
	if len(events) != 2 {
		t.Fatalf("unchanged price must not write or notify, got %v", events)
	}
}

func TestRunPassFetchFailureLeavesStoreUntouched(t *testing.T) {
	var events []string
	fetcher := &fakeFetcher{err: errors.New("upstream down")}
	svc, c := newTestService(fetcher, &events, nil)

	if err := svc.RunPass(context.Background(), time.Now()); err == nil {
		t.Fatal("fetch failure should surface from the pass")
	}
	if len(events) != 0 {
		t.Fatalf("fetch failure must not touch the store, got %v", events)
	}
	if c.Len() != 0 {
		t.Fatal("fetch failure must not touch the cache")
	}
}

func TestRunPassNotifyFailureDoesNotFailPass(t *testing.T) {
	var events []string
	fetcher := &fakeFetcher{readings: []model.PriceReading{
		testReading(100, model.FuelE10, 179.9),
	}}
	svc, c := newTestService(fetcher, &events, errors.New("broker unreachable"))

	if err := svc.RunPass(context.Background(), time.Now()); err != nil {
		t.Fatalf("notifier failure must not fail the pass: %v", err)
	}
	if events[0] != "insert 100/E10" {
		t.Fatalf("the point must still be persisted, got %v", events)
	}
	if c.Len() != 1 {
		t.Fatal("the cache must still reflect the persisted point")
	}
}

func TestRunPassSkipsWhileStoreHeldByRestore(t *testing.T) {
	var events []string
	fetcher := &fakeFetcher{readings: []model.PriceReading{
		testReading(100, model.FuelE10, 179.9),
	}}

	c := cache.New()
	det := detector.New(eventStore{events: &events}, c, testLogger())
	gate := storage.NewGate()
	svc := New(fetcher, det, c, stationList{{ID: 100, FuelTypes: []string{"E10"}}}, nil, nil, gate, nil, 0, testLogger())

	release, ok := gate.TryAcquire()
	if !ok {
		t.Fatal("fresh gate should be acquirable")
	}
	defer release()

	if err := svc.RunPass(context.Background(), time.Now()); err != nil {
		t.Fatalf("a held store skips the pass without error: %v", err)
	}
	if fetcher.calls != 0 {
		t.Fatal("a skipped pass must not fetch")
	}
}
