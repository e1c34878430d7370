package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/llmgate/llmgate/internal/core"
)

// ThrottleEventQuery filters throttle event listings.
type ThrottleEventQuery struct {
	Provider string
	Action   core.ThrottleAction
	Since    time.Time
	Limit    int
}

func (q ThrottleEventQuery) whereClause() (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if provider := strings.ToLower(strings.TrimSpace(q.Provider)); provider != "" {
		clauses = append(clauses, "provider = ?")
		args = append(args, provider)
	}
	if q.Action != "" {
		clauses = append(clauses, "action = ?")
		args = append(args, string(q.Action))
	}
	if !q.Since.IsZero() {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, q.Since.UTC().UnixMilli())
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// RecordThrottleEvent appends an auto-throttler adjustment.
func (s *Store) RecordThrottleEvent(ctx context.Context, event core.ThrottleEvent) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	created := event.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.DB.ExecContext(ctx, `INSERT INTO throttle_events
		(provider, action, old_rpm, new_rpm, old_burst, new_burst, rate_limit_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		strings.ToLower(event.Provider),
		string(event.Action),
		event.OldRPM,
		event.NewRPM,
		event.OldBurst,
		event.NewBurst,
		event.RateLimitCount,
		created.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record throttle event: %w", err)
	}
	return nil
}

// ListThrottleEvents returns matching events, newest first.
func (s *Store) ListThrottleEvents(ctx context.Context, q ThrottleEventQuery) ([]core.ThrottleEvent, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args := q.whereClause()
	query := fmt.Sprintf(`SELECT provider, action, old_rpm, new_rpm, old_burst, new_burst, rate_limit_count, created_at
		FROM throttle_events%s ORDER BY created_at DESC, id DESC`, where)
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query throttle events: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	var events []core.ThrottleEvent
	for rows.Next() {
		var (
			event   core.ThrottleEvent
			action  string
			created int64
		)
		if err := rows.Scan(&event.Provider, &action, &event.OldRPM, &event.NewRPM,
			&event.OldBurst, &event.NewBurst, &event.RateLimitCount, &created); err != nil {
			return nil, fmt.Errorf("scan throttle event: %w", err)
		}
		event.Action = core.ThrottleAction(action)
		event.CreatedAt = time.UnixMilli(created).UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate throttle events: %w", err)
	}
	return events, nil
}

// CountThrottleEvents counts matching events. Limit is ignored.
func (s *Store) CountThrottleEvents(ctx context.Context, q ThrottleEventQuery) (int, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args := q.whereClause()
	var count int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM throttle_events"+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count throttle events: %w", err)
	}
	return count, nil
}

// ResetThrottleEvents deletes matching events and returns how many were removed.
func (s *Store) ResetThrottleEvents(ctx context.Context, q ThrottleEventQuery) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args := q.whereClause()
	result, err := s.DB.ExecContext(ctx, "DELETE FROM throttle_events"+where, args...)
	if err != nil {
		return 0, fmt.Errorf("reset throttle events: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return affected, nil
}
