package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"
)

// Show prints recent price change points.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show points")
	}
	defer closeStore()

	points, err := store.ListRecentPoints(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(points) == 0 {
		fmt.Fprintln(os.Stdout, "no price points found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tStation\tFuel\tPrice\tName")

	for _, point := range points {
		fmt.Fprintf(
			writer,
			"%s\t%d\t%s\t%s\t%s\n",
			point.ObservedAt.UTC().Format(time.RFC3339),
			int(point.Key.Station),
			point.Key.Fuel,
			point.Price.StringFixed(1),
			point.StationName,
		)
	}

	writer.Flush()
	return nil
}
