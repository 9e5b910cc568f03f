package cache

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"fuelwatcher/internal/model"
	"fuelwatcher/internal/storage"
)

func TestCachePutGet(t *testing.T) {
	c := New()
	key := model.Key{Station: 100, Fuel: model.FuelE10}

	if _, ok := c.Get(key); ok {
		t.Fatal("empty cache should not know any key")
	}

	observed := time.Now().UTC()
	c.Put(key, decimal.NewFromFloat(179.9), observed)

	entry, ok := c.Get(key)
	if !ok {
		t.Fatal("key should be cached after Put")
	}
	if !entry.Price.Equal(decimal.NewFromFloat(179.9)) {
		t.Fatalf("unexpected cached price %s", entry.Price)
	}
	if !entry.ObservedAt.Equal(observed) {
		t.Fatalf("unexpected cached timestamp %s", entry.ObservedAt)
	}
	if c.Len() != 1 {
		t.Fatalf("expected 1 cached key, got %d", c.Len())
	}
}

func TestCacheLoadReplaces(t *testing.T) {
	c := New()
	stale := model.Key{Station: 100, Fuel: model.FuelE10}
	c.Put(stale, decimal.NewFromFloat(150.0), time.Now())

	fresh := model.Key{Station: 200, Fuel: model.FuelP95}
	c.Load([]storage.LatestPrice{
		{Key: fresh, Price: decimal.NewFromFloat(201.5), ObservedAt: time.Now()},
	})

	if _, ok := c.Get(stale); ok {
		t.Fatal("Load should drop entries absent from the store snapshot")
	}
	entry, ok := c.Get(fresh)
	if !ok {
		t.Fatal("Load should install the store snapshot")
	}
	if !entry.Price.Equal(decimal.NewFromFloat(201.5)) {
		t.Fatalf("unexpected loaded price %s", entry.Price)
	}
}
