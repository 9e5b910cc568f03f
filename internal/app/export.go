package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"fuelwatcher/internal/model"
)

// Export renders the price history of one (station, fuel) key as CSV and/or
// a PNG chart.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.StationID <= 0 || opts.FuelType == "" {
		return errors.New("--station and --fuel must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	defer closeStore()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.AddDate(0, -1, 0)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	key := model.Key{Station: model.StationID(opts.StationID), Fuel: model.ParseFuelType(opts.FuelType)}
	points, err := store.ListPointsBetween(ctx, key, from, to)
	if err != nil {
		return err
	}

	// The change log only holds transitions, so the price in effect at the
	// window start is the last point before it. Anchor the series with it.
	anchor, err := store.PointBefore(ctx, key, from)
	if err != nil {
		return err
	}
	if anchor != nil {
		anchor.ObservedAt = from
		points = append([]model.PricePoint{*anchor}, points...)
	}

	if len(points) == 0 {
		a.Logger.Info().Str("key", key.String()).Msg("no points found for export window")
		return nil
	}

	downsampled := downsamplePoints(points, opts.MaxPoints)
	a.Logger.Info().Int("total", len(points)).Int("exported", len(downsampled)).Msg("exporting points")

	if opts.CSVPath != "" {
		if err := writePointsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := a.writePointsPNG(opts.PNGPath, key, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsamplePoints(points []model.PricePoint, max int) []model.PricePoint {
	if max <= 0 || len(points) <= max {
		return points
	}

	result := make([]model.PricePoint, 0, max)
	step := float64(len(points)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(points) {
			idx = len(points) - 1
		}
		result = append(result, points[idx])
	}
	return result
}

func writePointsCSV(path string, points []model.PricePoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"observed_at", "station_id", "station_name", "station_address", "fuel_type", "price"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, point := range points {
		record := []string{
			point.ObservedAt.UTC().Format(time.RFC3339),
			point.Key.Station.String(),
			point.StationName,
			point.StationAddress,
			string(point.Key.Fuel),
			point.Price.String(),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func (a *App) writePointsPNG(path string, key model.Key, points []model.PricePoint) error {
	// The chart renderer needs at least two values for a series.
	if len(points) < 2 {
		a.Logger.Info().Str("key", key.String()).Msg("fewer than two points in window, skipping chart")
		return nil
	}

	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(points))
	prices := make([]float64, len(points))
	for i, point := range points {
		x[i] = point.ObservedAt
		prices[i] = point.Price.InexactFloat64()
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.1f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price (¢/L)",
			ValueFormatter: priceFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    key.String(),
				XValues: x,
				YValues: prices,
				Style: chart.Style{
					StrokeColor: chart.ColorBlue,
				},
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
