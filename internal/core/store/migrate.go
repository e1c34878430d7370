package store

import (
	"context"
	"errors"
	"fmt"
)

// migrations are applied in order; PRAGMA user_version records how many have
// run. Append only.
var migrations = [][]string{
	{`CREATE TABLE IF NOT EXISTS provider_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		provider TEXT NOT NULL,
		status TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		metrics_json TEXT NOT NULL,
		rate_limit_json TEXT NOT NULL,
		captured_at INTEGER NOT NULL
	)`,
		`CREATE INDEX IF NOT EXISTS idx_provider_snapshots_lookup ON provider_snapshots(provider, captured_at)`,
		`CREATE INDEX IF NOT EXISTS idx_provider_snapshots_captured ON provider_snapshots(captured_at)`},

	{`CREATE TABLE IF NOT EXISTS throttle_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		provider TEXT NOT NULL,
		action TEXT NOT NULL,
		old_rpm INTEGER NOT NULL,
		new_rpm INTEGER NOT NULL,
		old_burst INTEGER NOT NULL,
		new_burst INTEGER NOT NULL,
		rate_limit_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	)`,
		`CREATE INDEX IF NOT EXISTS idx_throttle_events_provider ON throttle_events(provider, created_at)`},
}

// Migrate brings the schema up to date. It is safe to call on every start.
func (s *Store) Migrate(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	version, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	for i := version; i < len(migrations); i++ {
		for _, stmt := range migrations[i] {
			if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("store migration %d failed: %w", i+1, err)
			}
		}
		// PRAGMA does not take bound parameters.
		if _, err := s.DB.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			return fmt.Errorf("record schema version %d: %w", i+1, err)
		}
	}
	return nil
}

// SchemaVersion returns the number of migrations applied to the database.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	var version int
	if err := s.DB.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}
