package storage

import (
	"context"
	"fmt"
)

const createSchemaSQL = `CREATE TABLE IF NOT EXISTS price_points (
    id              BIGSERIAL PRIMARY KEY,
    station_id      INTEGER      NOT NULL,
    station_name    TEXT         NOT NULL DEFAULT '',
    station_address TEXT         NOT NULL DEFAULT '',
    fuel_type       TEXT         NOT NULL,
    price           NUMERIC(10,3) NOT NULL,
    observed_at     TIMESTAMPTZ  NOT NULL,
    created_at      TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_price_points_key_observed
    ON price_points (station_id, fuel_type, observed_at DESC);`

// EnsureSchema creates the change-log table and its key index if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, createSchemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
