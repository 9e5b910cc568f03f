// Package source provides the FuelCheck-style price API client.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fuelwatcher/internal/model"
)

var (
	// ErrUnavailable marks transient transport failures. The caller retries
	// on the next scheduled pass, never in a tight loop here.
	ErrUnavailable = errors.New("price source unavailable")
	// ErrProtocol marks a malformed or unexpected response body.
	ErrProtocol = errors.New("price source protocol error")
)

const (
	allPricesPath    = "/fuel/prices"
	stationPricePath = "/fuel/prices/station/"
)

// Options parameterise the price source client.
type Options struct {
	BaseURL      string
	Timeout      time.Duration
	UserAgent    string
	PerStation   bool
	FetchWorkers int
}

// Client fetches and normalizes station price records.
type Client struct {
	opts    Options
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// New constructs a price source client.
func New(opts Options, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if opts.FetchWorkers <= 0 {
		opts.FetchWorkers = 4
	}

	return &Client{
		opts:    opts,
		logger:  logger.With().Str("component", "source").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}
}

// Fetch returns normalized readings for the given stations. An empty station
// set returns an empty slice, not an error. In per-station mode one request
// is issued per station and single-station failures do not abort the batch.
func (c *Client) Fetch(ctx context.Context, stationIDs []model.StationID) ([]model.PriceReading, error) {
	if len(stationIDs) == 0 {
		return nil, nil
	}
	if c.opts.PerStation {
		return c.fetchPerStation(ctx, stationIDs)
	}
	return c.fetchBatch(ctx, stationIDs)
}

func (c *Client) fetchBatch(ctx context.Context, stationIDs []model.StationID) ([]model.PriceReading, error) {
	payload, err := c.getPrices(ctx, c.baseURL+allPricesPath)
	if err != nil {
		return nil, err
	}

	wanted := make(map[model.StationID]struct{}, len(stationIDs))
	for _, id := range stationIDs {
		wanted[id] = struct{}{}
	}

	readings := normalize(payload)
	filtered := readings[:0]
	for _, r := range readings {
		if _, ok := wanted[r.Key.Station]; ok {
			filtered = append(filtered, r)
		}
	}

	c.logger.Debug().
		Int("stations", len(stationIDs)).
		Int("readings", len(filtered)).
		Msg("fetched batch prices")
	return filtered, nil
}

func (c *Client) fetchPerStation(ctx context.Context, stationIDs []model.StationID) ([]model.PriceReading, error) {
	type result struct {
		station  model.StationID
		readings []model.PriceReading
		err      error
	}

	jobs := make(chan model.StationID)
	results := make(chan result, len(stationIDs))

	workers := c.opts.FetchWorkers
	if workers > len(stationIDs) {
		workers = len(stationIDs)
	}

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for id := range jobs {
				url := fmt.Sprintf("%s%s%d", c.baseURL, stationPricePath, int(id))
				payload, err := c.getPrices(ctx, url)
				if err != nil {
					results <- result{station: id, err: err}
					continue
				}
				results <- result{station: id, readings: normalize(payload)}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, id := range stationIDs {
			select {
			case <-ctx.Done():
				return
			case jobs <- id:
			}
		}
	}()

	wg.Wait()
	close(results)

	var readings []model.PriceReading
	failed := 0
	for res := range results {
		if res.err != nil {
			failed++
			c.logger.Warn().
				Err(res.err).
				Str("station", res.station.String()).
				Msg("station fetch failed, continuing with remaining stations")
			continue
		}
		readings = append(readings, res.readings...)
	}

	if failed == len(stationIDs) {
		return nil, fmt.Errorf("%w: all %d station requests failed", ErrUnavailable, failed)
	}

	sort.Slice(readings, func(i, j int) bool {
		if readings[i].Key.Station != readings[j].Key.Station {
			return readings[i].Key.Station < readings[j].Key.Station
		}
		return readings[i].Key.Fuel < readings[j].Key.Fuel
	})

	return readings, nil
}

func (c *Client) getPrices(ctx context.Context, url string) (*pricesResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrProtocol, err)
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrProtocol, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload pricesResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return &payload, nil
}

type pricesResponse struct {
	Stations []stationRecord `json:"stations"`
	Prices   []priceRecord   `json:"prices"`
}

type stationRecord struct {
	Code    int    `json:"code"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

type priceRecord struct {
	StationCode int     `json:"stationcode"`
	FuelType    string  `json:"fueltype"`
	Price       float64 `json:"price"`
	LastUpdated string  `json:"lastupdated"`
}

// normalize maps the upstream vocabulary into canonical readings, indexed by
// station record for name and address. Unknown fuel codes pass through
// verbatim; the interest-set filter downstream decides whether to keep them.
func normalize(payload *pricesResponse) []model.PriceReading {
	stations := make(map[int]stationRecord, len(payload.Stations))
	for _, st := range payload.Stations {
		stations[st.Code] = st
	}

	now := time.Now().UTC()
	readings := make([]model.PriceReading, 0, len(payload.Prices))
	for _, p := range payload.Prices {
		fuel := model.ParseFuelType(p.FuelType)
		if fuel == "" {
			continue
		}

		observed := now
		if p.LastUpdated != "" {
			if ts, err := time.Parse("02/01/2006 15:04:05", p.LastUpdated); err == nil {
				observed = ts.UTC()
			}
		}

		st := stations[p.StationCode]
		readings = append(readings, model.PriceReading{
			Key:            model.Key{Station: model.StationID(p.StationCode), Fuel: fuel},
			StationName:    st.Name,
			StationAddress: st.Address,
			// Quantized to the store column's scale so the reconciled cache
			// and a freshly fetched identical price always compare equal.
			Price:      decimal.NewFromFloat(p.Price).Round(3),
			ObservedAt: observed,
		})
	}
	return readings
}
