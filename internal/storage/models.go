package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"fuelwatcher/internal/model"
)

// LatestPrice is the most recent stored point for one (station, fuel) key,
// used to seed the in-memory last-known-price cache at startup.
type LatestPrice struct {
	Key        model.Key
	Price      decimal.Decimal
	ObservedAt time.Time
}
