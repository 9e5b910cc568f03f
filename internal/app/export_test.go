package app

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fuelwatcher/internal/model"
)

func makePoints(n int) []model.PricePoint {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	points := make([]model.PricePoint, n)
	for i := range points {
		points[i] = model.PricePoint{
			Key:        model.Key{Station: 100, Fuel: model.FuelE10},
			Price:      decimal.NewFromInt(int64(150 + i)),
			ObservedAt: base.Add(time.Duration(i) * time.Hour),
		}
	}
	return points
}

func TestDownsamplePoints(t *testing.T) {
	points := makePoints(1000)

	down := downsamplePoints(points, 100)
	if len(down) != 100 {
		t.Fatalf("expected 100 points, got %d", len(down))
	}
	if !down[0].ObservedAt.Equal(points[0].ObservedAt) {
		t.Fatal("downsampling should keep the first point")
	}
	if !down[len(down)-1].ObservedAt.Equal(points[len(points)-1].ObservedAt) {
		t.Fatal("downsampling should keep the last point")
	}

	small := makePoints(10)
	if got := downsamplePoints(small, 100); len(got) != 10 {
		t.Fatalf("series under the cap should pass through, got %d", len(got))
	}
}

func TestWritePointsPNG(t *testing.T) {
	a := &App{Logger: zerolog.Nop()}
	key := model.Key{Station: 100, Fuel: model.FuelE10}
	path := filepath.Join(t.TempDir(), "chart.png")

	if err := a.writePointsPNG(path, key, makePoints(1)); err != nil {
		t.Fatalf("a single point should skip the chart, not error: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("no chart file should be written for a single point")
	}

	if err := a.writePointsPNG(path, key, makePoints(2)); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() == 0 {
		t.Fatal("chart file should not be empty")
	}
}

func TestWritePointsCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "prices.csv")
	points := makePoints(3)
	points[0].StationName = "Metro One"

	if err := writePointsCSV(path, points); err != nil {
		t.Fatal(err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 4 {
		t.Fatalf("expected header plus 3 rows, got %d", len(records))
	}
	if records[0][0] != "observed_at" || records[0][5] != "price" {
		t.Fatalf("unexpected header %v", records[0])
	}
	if records[1][2] != "Metro One" || records[1][5] != "150" {
		t.Fatalf("unexpected first row %v", records[1])
	}
}
