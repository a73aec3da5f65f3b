package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/metergate/metergate/domain/quota"
	"github.com/metergate/metergate/domain/usage"
	"github.com/metergate/metergate/ports"
)

// MeterStore implements ports.MeterStore using PostgreSQL.
type MeterStore struct {
	db *DB
}

// NewMeterStore creates a new PostgreSQL meter store.
func NewMeterStore(db *DB) *MeterStore {
	return &MeterStore{db: db}
}

// RecordEvent appends an event and bumps the source-key counter in one
// transaction. Concurrent duplicate submissions race on the idempotency
// key insert; exactly one wins and applies the delta.
func (s *MeterStore) RecordEvent(ctx context.Context, ev usage.Event) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var meta any
	if len(ev.Metadata) > 0 {
		meta = ev.Metadata // pgx encodes maps as JSONB
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO usage_events (idempotency_key, source_key, delta, endpoint, ts, request_id, meta)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''), $7)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, ev.IdempotencyKey, ev.SourceKey, ev.Delta, ev.Endpoint, ev.Timestamp.UTC(), ev.RequestID, meta)
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return false, tx.Commit(ctx)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO usage_counters (source_key, used, updated_at)
		VALUES ($1, GREATEST($2, 0), now())
		ON CONFLICT (source_key) DO UPDATE SET
			used = usage_counters.used + EXCLUDED.used,
			updated_at = EXCLUDED.updated_at
	`, ev.SourceKey, ev.Delta)
	if err != nil {
		return false, fmt.Errorf("bump counter: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// Counter returns the accumulated units for a source key.
func (s *MeterStore) Counter(ctx context.Context, sourceKey string) (usage.Counter, error) {
	var c usage.Counter
	err := s.db.QueryRow(ctx, `
		SELECT source_key, used, updated_at FROM usage_counters WHERE source_key = $1
	`, sourceKey).Scan(&c.SourceKey, &c.Used, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return usage.Counter{SourceKey: sourceKey}, nil
	}
	if err != nil {
		return usage.Counter{}, err
	}
	return c, nil
}

// EnsurePeriod lazily creates the monthly row for (user, period).
func (s *MeterStore) EnsurePeriod(ctx context.Context, userID string, periodStart time.Time) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO user_usage_monthly (user_id, period_start, used, overage_used)
		VALUES ($1, $2, 0, 0)
		ON CONFLICT (user_id, period_start) DO NOTHING
	`, userID, quota.PeriodStart(periodStart))
	if err != nil {
		return fmt.Errorf("ensure period: %w", err)
	}
	return nil
}

// Period returns the monthly aggregate, zero-valued when absent.
func (s *MeterStore) Period(ctx context.Context, userID string, periodStart time.Time) (quota.Period, error) {
	p := quota.Period{UserID: userID, PeriodStart: quota.PeriodStart(periodStart)}
	err := s.db.QueryRow(ctx, `
		SELECT used, overage_used FROM user_usage_monthly
		WHERE user_id = $1 AND period_start = $2
	`, userID, p.PeriodStart).Scan(&p.Used, &p.OverageUsed)
	if errors.Is(err, pgx.ErrNoRows) {
		return p, nil
	}
	if err != nil {
		return quota.Period{}, err
	}
	return p, nil
}

// Debit runs decide inside one transaction with the period row locked.
// Concurrent debits for the same (user, period) block on the row lock
// until the holder commits or rolls back; other users proceed in parallel.
func (s *MeterStore) Debit(ctx context.Context, userID string, periodStart time.Time, decide ports.DebitFunc) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	start := quota.PeriodStart(periodStart)

	_, err = tx.Exec(ctx, `
		INSERT INTO user_usage_monthly (user_id, period_start, used, overage_used)
		VALUES ($1, $2, 0, 0)
		ON CONFLICT (user_id, period_start) DO NOTHING
	`, userID, start)
	if err != nil {
		return fmt.Errorf("ensure period: %w", err)
	}

	var u ports.User
	err = tx.QueryRow(ctx, `
		SELECT id, email, plan_slug, created_at, updated_at FROM users WHERE id = $1
	`, userID).Scan(&u.ID, &u.Email, &u.PlanSlug, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ports.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}

	p := quota.Period{UserID: userID, PeriodStart: start}
	err = tx.QueryRow(ctx, `
		SELECT used, overage_used FROM user_usage_monthly
		WHERE user_id = $1 AND period_start = $2
		FOR UPDATE
	`, userID, start).Scan(&p.Used, &p.OverageUsed)
	if err != nil {
		return fmt.Errorf("lock period: %w", err)
	}

	updated, commit, err := decide(u, p)
	if err != nil {
		return err
	}
	if !commit {
		// Blocked decision: roll back with no mutation.
		return nil
	}

	_, err = tx.Exec(ctx, `
		UPDATE user_usage_monthly
		SET used = $3, overage_used = $4
		WHERE user_id = $1 AND period_start = $2
	`, userID, start, updated.Used, updated.OverageUsed)
	if err != nil {
		return fmt.Errorf("update period: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Ensure interface compliance.
var _ ports.MeterStore = (*MeterStore)(nil)
