package detector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fuelwatcher/internal/cache"
	"fuelwatcher/internal/model"
	"fuelwatcher/internal/storage"
)

type fakeStore struct {
	inserted  []model.PricePoint
	latest    []storage.LatestPrice
	insertErr error
}

func (f *fakeStore) InsertPoint(_ context.Context, point model.PricePoint) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, point)
	return nil
}

func (f *fakeStore) LatestPerKey(_ context.Context, _ []model.StationID) ([]storage.LatestPrice, error) {
	return f.latest, nil
}

func (f *fakeStore) PointBefore(_ context.Context, _ model.Key, _ time.Time) (*model.PricePoint, error) {
	return nil, nil
}

func (f *fakeStore) ListPointsBetween(_ context.Context, _ model.Key, _, _ time.Time) ([]model.PricePoint, error) {
	return nil, nil
}

func (f *fakeStore) ListRecentPoints(_ context.Context, _ int) ([]model.PricePoint, error) {
	return nil, nil
}

func (f *fakeStore) CountPoints(_ context.Context) (int64, error) {
	return int64(len(f.inserted)), nil
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func reading(price float64) model.PriceReading {
	return model.PriceReading{
		Key:        model.Key{Station: 100, Fuel: model.FuelE10},
		Price:      decimal.NewFromFloat(price),
		ObservedAt: time.Now().UTC(),
	}
}

func TestProcessFirstObservationWritten(t *testing.T) {
	store := &fakeStore{}
	d := New(store, cache.New(), testLogger())

	outcome, trend, err := d.Process(context.Background(), reading(179.9))
	if err != nil {
		t.Fatalf("first observation should persist: %v", err)
	}
	if outcome != Written {
		t.Fatalf("first observation should be written, got %s", outcome)
	}
	if trend != model.TrendStable {
		t.Fatalf("first observation has no predecessor, trend should be stable, got %s", trend)
	}
	if len(store.inserted) != 1 {
		t.Fatalf("expected 1 insert, got %d", len(store.inserted))
	}
}

func TestProcessUnchangedPriceSkipped(t *testing.T) {
	store := &fakeStore{}
	d := New(store, cache.New(), testLogger())

	if _, _, err := d.Process(context.Background(), reading(179.9)); err != nil {
		t.Fatal(err)
	}
	outcome, _, err := d.Process(context.Background(), reading(179.9))
	if err != nil {
		t.Fatal(err)
	}
	if outcome != Skipped {
		t.Fatalf("unchanged price should be skipped, got %s", outcome)
	}
	if len(store.inserted) != 1 {
		t.Fatalf("skip must not write, got %d inserts", len(store.inserted))
	}
}

func TestProcessChangeRecordsTrend(t *testing.T) {
	store := &fakeStore{}
	d := New(store, cache.New(), testLogger())
	ctx := context.Background()

	if _, _, err := d.Process(ctx, reading(179.9)); err != nil {
		t.Fatal(err)
	}

	outcome, trend, err := d.Process(ctx, reading(185.5))
	if err != nil {
		t.Fatal(err)
	}
	if outcome != Written || trend != model.TrendRise {
		t.Fatalf("expected written/rise, got %s/%s", outcome, trend)
	}

	// An A-B-A sequence stores the return to A as a distinct change.
	outcome, trend, err = d.Process(ctx, reading(179.9))
	if err != nil {
		t.Fatal(err)
	}
	if outcome != Written || trend != model.TrendFall {
		t.Fatalf("return to previous price should be written/fall, got %s/%s", outcome, trend)
	}
	if len(store.inserted) != 3 {
		t.Fatalf("expected 3 inserts for A-B-A, got %d", len(store.inserted))
	}
}

func TestProcessPersistFailureLeavesCacheUntouched(t *testing.T) {
	store := &fakeStore{insertErr: errors.New("connection refused")}
	c := cache.New()
	d := New(store, c, testLogger())

	if _, _, err := d.Process(context.Background(), reading(179.9)); err == nil {
		t.Fatal("insert failure should surface")
	}
	if c.Len() != 0 {
		t.Fatal("cache must not be updated when the store write fails")
	}

	// Once the store recovers the same reading must still be written.
	store.insertErr = nil
	outcome, _, err := d.Process(context.Background(), reading(179.9))
	if err != nil {
		t.Fatal(err)
	}
	if outcome != Written {
		t.Fatalf("retried reading should be written, got %s", outcome)
	}
}

func TestReconcileSeedsCache(t *testing.T) {
	key := model.Key{Station: 100, Fuel: model.FuelE10}
	store := &fakeStore{latest: []storage.LatestPrice{
		{Key: key, Price: decimal.NewFromFloat(179.9), ObservedAt: time.Now().UTC()},
	}}
	c := cache.New()
	d := New(store, c, testLogger())

	if err := d.Reconcile(context.Background(), []model.StationID{100}); err != nil {
		t.Fatal(err)
	}

	// After a restart an unchanged price must not produce a duplicate point.
	outcome, _, err := d.Process(context.Background(), reading(179.9))
	if err != nil {
		t.Fatal(err)
	}
	if outcome != Skipped {
		t.Fatalf("reconciled price should be skipped, got %s", outcome)
	}
	if len(store.inserted) != 0 {
		t.Fatalf("expected no inserts after reconcile, got %d", len(store.inserted))
	}
}
