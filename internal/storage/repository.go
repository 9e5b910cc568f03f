package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"fuelwatcher/internal/model"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertPointSQL = `INSERT INTO price_points (
        station_id,
        station_name,
        station_address,
        fuel_type,
        price,
        observed_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    );`

	latestPerKeySQL = `SELECT DISTINCT ON (station_id, fuel_type)
        station_id,
        fuel_type,
        price,
        observed_at
    FROM price_points
    WHERE station_id = ANY($1)
    ORDER BY station_id, fuel_type, observed_at DESC;`

	pointBeforeSQL = `SELECT
        station_id,
        station_name,
        station_address,
        fuel_type,
        price,
        observed_at
    FROM price_points
    WHERE station_id = $1
      AND fuel_type = $2
      AND observed_at < $3
    ORDER BY observed_at DESC
    LIMIT 1;`

	listPointsBetweenSQL = `SELECT
        station_id,
        station_name,
        station_address,
        fuel_type,
        price,
        observed_at
    FROM price_points
    WHERE station_id = $1
      AND fuel_type = $2
      AND observed_at >= $3
      AND observed_at < $4
    ORDER BY observed_at;`

	listRecentPointsSQL = `SELECT
        station_id,
        station_name,
        station_address,
        fuel_type,
        price,
        observed_at
    FROM price_points
    ORDER BY observed_at DESC
    LIMIT $1;`

	countPointsSQL = `SELECT COUNT(*) FROM price_points;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// PricePointStore defines operations for the append-only change log.
type PricePointStore interface {
	InsertPoint(ctx context.Context, point model.PricePoint) error
	LatestPerKey(ctx context.Context, stationIDs []model.StationID) ([]LatestPrice, error)
	PointBefore(ctx context.Context, key model.Key, ts time.Time) (*model.PricePoint, error)
	ListPointsBetween(ctx context.Context, key model.Key, from, to time.Time) ([]model.PricePoint, error)
	ListRecentPoints(ctx context.Context, limit int) ([]model.PricePoint, error)
	CountPoints(ctx context.Context) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers for cross-instance
// single-flight of scheduler passes.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store provides PostgreSQL-backed access to the price change log.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a
// release func. The lock rides on a dedicated connection held until release.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// InsertPoint appends one price point to the change log.
func (s *Store) InsertPoint(ctx context.Context, point model.PricePoint) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, insertPointSQL,
		int(point.Key.Station),
		point.StationName,
		point.StationAddress,
		string(point.Key.Fuel),
		point.Price.String(),
		point.ObservedAt.UTC(),
	)
	if execErr != nil {
		return fmt.Errorf("insert price point: %w", execErr)
	}
	return nil
}

// LatestPerKey returns the most recent stored point per (station, fuel) key
// for the given stations. Bounded by DISTINCT ON, not a full scan.
func (s *Store) LatestPerKey(ctx context.Context, stationIDs []model.StationID) ([]LatestPrice, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	if len(stationIDs) == 0 {
		return nil, nil
	}

	ids := make([]int, len(stationIDs))
	for i, id := range stationIDs {
		ids[i] = int(id)
	}

	rows, queryErr := pool.Query(ctx, latestPerKeySQL, ids)
	if queryErr != nil {
		return nil, fmt.Errorf("latest per key: %w", queryErr)
	}
	defer rows.Close()

	latest := make([]LatestPrice, 0, len(stationIDs))
	for rows.Next() {
		var (
			stationID  int
			fuelType   string
			priceStr   string
			observedAt time.Time
		)
		if err := rows.Scan(&stationID, &fuelType, &priceStr, &observedAt); err != nil {
			return nil, err
		}
		price, convErr := decimal.NewFromString(priceStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse price: %w", convErr)
		}
		latest = append(latest, LatestPrice{
			Key:        model.Key{Station: model.StationID(stationID), Fuel: model.FuelType(fuelType)},
			Price:      price,
			ObservedAt: observedAt,
		})
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return latest, nil
}

// PointBefore returns the latest stored point for a key strictly before ts,
// or nil when no predecessor exists.
func (s *Store) PointBefore(ctx context.Context, key model.Key, ts time.Time) (*model.PricePoint, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	row := pool.QueryRow(ctx, pointBeforeSQL, int(key.Station), string(key.Fuel), ts.UTC())
	point, scanErr := scanPoint(row)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, scanErr
	}
	return &point, nil
}

// ListPointsBetween lists points for one key within a time window.
func (s *Store) ListPointsBetween(ctx context.Context, key model.Key, from, to time.Time) ([]model.PricePoint, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listPointsBetweenSQL, int(key.Station), string(key.Fuel), from.UTC(), to.UTC())
	if queryErr != nil {
		return nil, fmt.Errorf("list points between: %w", queryErr)
	}
	defer rows.Close()

	return collectPoints(rows, 0)
}

// ListRecentPoints lists the most recent points across all keys.
func (s *Store) ListRecentPoints(ctx context.Context, limit int) ([]model.PricePoint, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentPointsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent points: %w", queryErr)
	}
	defer rows.Close()

	return collectPoints(rows, limit)
}

// CountPoints counts stored points.
func (s *Store) CountPoints(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countPointsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count points: %w", scanErr)
	}
	return count, nil
}

func collectPoints(rows pgx.Rows, capHint int) ([]model.PricePoint, error) {
	points := make([]model.PricePoint, 0, capHint)
	for rows.Next() {
		point, scanErr := scanPoint(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		points = append(points, point)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return points, nil
}

func scanPoint(row pgx.Row) (model.PricePoint, error) {
	var (
		stationID  int
		name       string
		address    string
		fuelType   string
		priceStr   string
		observedAt time.Time
	)

	if err := row.Scan(&stationID, &name, &address, &fuelType, &priceStr, &observedAt); err != nil {
		return model.PricePoint{}, err
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return model.PricePoint{}, fmt.Errorf("parse price: %w", err)
	}

	return model.PricePoint{
		Key:            model.Key{Station: model.StationID(stationID), Fuel: model.FuelType(fuelType)},
		StationName:    name,
		StationAddress: address,
		Price:          price,
		ObservedAt:     observedAt,
	}, nil
}

var _ PricePointStore = (*Store)(nil)
var _ AdvisoryLocker = (*Store)(nil)
