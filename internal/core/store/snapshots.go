package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/llmgate/llmgate/internal/core"
)

// SaveSnapshots writes one row per provider report in a single transaction.
func (s *Store) SaveSnapshots(ctx context.Context, reports []core.ProviderReport) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if len(reports) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot write: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO provider_snapshots (provider, status, enabled, metrics_json, rate_limit_json, captured_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare snapshot insert: %w", err)
	}
	defer stmt.Close() // nolint:errcheck // best-effort cleanup

	for _, report := range reports {
		metricsJSON, err := json.Marshal(report.Metrics)
		if err != nil {
			return fmt.Errorf("encode metrics for %s: %w", report.Provider, err)
		}
		limitJSON, err := json.Marshal(report.RateLimit)
		if err != nil {
			return fmt.Errorf("encode rate limit for %s: %w", report.Provider, err)
		}
		captured := report.UpdatedAt
		if captured.IsZero() {
			captured = time.Now()
		}
		if _, err := stmt.ExecContext(ctx,
			strings.ToLower(report.Provider),
			string(report.Status),
			boolToInt(report.Enabled),
			string(metricsJSON),
			string(limitJSON),
			captured.UTC().UnixMilli(),
		); err != nil {
			return fmt.Errorf("insert snapshot for %s: %w", report.Provider, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshots: %w", err)
	}
	return nil
}

// LatestSnapshots returns the most recent snapshot of every provider, ordered by name.
func (s *Store) LatestSnapshots(ctx context.Context) ([]core.ProviderReport, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := s.DB.QueryContext(ctx, `SELECT p.provider, p.status, p.enabled, p.metrics_json, p.rate_limit_json, p.captured_at
		FROM provider_snapshots p
		JOIN (
			SELECT provider, MAX(id) AS id FROM provider_snapshots GROUP BY provider
		) latest ON latest.id = p.id
		ORDER BY p.provider`)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	var reports []core.ProviderReport
	for rows.Next() {
		var (
			report      core.ProviderReport
			status      string
			enabled     int
			metricsJSON string
			limitJSON   string
			captured    int64
		)
		if err := rows.Scan(&report.Provider, &status, &enabled, &metricsJSON, &limitJSON, &captured); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		if err := json.Unmarshal([]byte(metricsJSON), &report.Metrics); err != nil {
			return nil, fmt.Errorf("decode metrics for %s: %w", report.Provider, err)
		}
		if err := json.Unmarshal([]byte(limitJSON), &report.RateLimit); err != nil {
			return nil, fmt.Errorf("decode rate limit for %s: %w", report.Provider, err)
		}
		report.Status = core.ProviderStatus(status)
		report.Enabled = enabled != 0
		report.UpdatedAt = time.UnixMilli(captured).UTC()
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return reports, nil
}

// PruneSnapshots deletes snapshots captured before the cutoff.
func (s *Store) PruneSnapshots(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := s.DB.ExecContext(ctx, `DELETE FROM provider_snapshots WHERE captured_at < ?`, before.UTC().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return affected, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
