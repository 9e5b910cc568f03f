// Package model provides shared data types for the fuel price monitor.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// FuelType is a canonical fuel type code as reported by the price source.
type FuelType string

// Known fuel type codes.
const (
	FuelE10 FuelType = "E10"
	FuelU91 FuelType = "U91"
	FuelE85 FuelType = "E85"
	FuelP95 FuelType = "P95"
	FuelP98 FuelType = "P98"
	FuelDL  FuelType = "DL"
	FuelPDL FuelType = "PDL"
	FuelB20 FuelType = "B20"
	FuelLPG FuelType = "LPG"
	FuelCNG FuelType = "CNG"
	FuelEV  FuelType = "EV"
)

var knownFuelTypes = map[FuelType]struct{}{
	FuelE10: {}, FuelU91: {}, FuelE85: {}, FuelP95: {}, FuelP98: {},
	FuelDL: {}, FuelPDL: {}, FuelB20: {}, FuelLPG: {}, FuelCNG: {}, FuelEV: {},
}

// Known reports whether the fuel type is part of the canonical vocabulary.
// Unknown codes are carried verbatim and filtered against the configured
// interest set downstream.
func (f FuelType) Known() bool {
	_, ok := knownFuelTypes[f]
	return ok
}

// String implements fmt.Stringer.
func (f FuelType) String() string {
	return string(f)
}

// ParseFuelType canonicalizes a raw fuel code. Unknown codes pass through
// uppercased so the interest-set filter downstream can decide on them.
func ParseFuelType(raw string) FuelType {
	return FuelType(strings.ToUpper(strings.TrimSpace(raw)))
}

// StationID identifies a retail station at the price source.
type StationID int

// String implements fmt.Stringer.
func (s StationID) String() string {
	return fmt.Sprintf("%d", int(s))
}

// Key identifies one (station, fuel type) monitoring target.
type Key struct {
	Station StationID
	Fuel    FuelType
}

// String implements fmt.Stringer.
func (k Key) String() string {
	return fmt.Sprintf("%d/%s", int(k.Station), k.Fuel)
}

// PriceReading is one observation returned by the price source. Readings are
// consumed within a single pass and never mutated.
type PriceReading struct {
	Key            Key
	StationName    string
	StationAddress string
	Price          decimal.Decimal
	ObservedAt     time.Time
}

// PricePoint is the durable change-log record. The store holds a point only
// when its price differs from the immediately preceding point for the same key.
type PricePoint struct {
	Key            Key
	StationName    string
	StationAddress string
	Price          decimal.Decimal
	ObservedAt     time.Time
}

// Trend classifies a price against its immediate predecessor for the same key.
type Trend string

const (
	// TrendRise means the price increased relative to the previous point.
	TrendRise Trend = "rise"
	// TrendFall means the price decreased relative to the previous point.
	TrendFall Trend = "fall"
	// TrendStable means the price is unchanged or has no predecessor.
	TrendStable Trend = "stable"
)

// ClassifyTrend compares a price against the preceding stored price.
func ClassifyTrend(current, previous decimal.Decimal) Trend {
	switch current.Cmp(previous) {
	case 1:
		return TrendRise
	case -1:
		return TrendFall
	default:
		return TrendStable
	}
}
