package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/metergate/metergate/domain/quota"
	"github.com/metergate/metergate/domain/usage"
	"github.com/metergate/metergate/ports"
)

// MeterStore implements ports.MeterStore using SQLite.
type MeterStore struct {
	db *DB
}

// NewMeterStore creates a new SQLite meter store.
func NewMeterStore(db *DB) *MeterStore {
	return &MeterStore{db: db}
}

// RecordEvent appends an event and bumps the source-key counter, both in
// one transaction. The counter moves only when the idempotency key has
// never been seen, so redelivery applies the delta at most once.
func (s *MeterStore) RecordEvent(ctx context.Context, ev usage.Event) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var meta any
	if len(ev.Metadata) > 0 {
		b, err := json.Marshal(ev.Metadata)
		if err != nil {
			return false, fmt.Errorf("marshal metadata: %w", err)
		}
		meta = string(b)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO usage_events (idempotency_key, source_key, delta, endpoint, ts, request_id, meta)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(idempotency_key) DO NOTHING
	`, ev.IdempotencyKey, ev.SourceKey, ev.Delta, nullable(ev.Endpoint), ev.Timestamp.UTC(), nullable(ev.RequestID), meta)
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		// Already seen: the log row and counter are untouched.
		return false, tx.Commit()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO usage_counters (source_key, used, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(source_key) DO UPDATE SET
			used = used + excluded.used,
			updated_at = excluded.updated_at
	`, ev.SourceKey, ev.AppliedDelta(), time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("bump counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// Counter returns the accumulated units for a source key.
func (s *MeterStore) Counter(ctx context.Context, sourceKey string) (usage.Counter, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT source_key, used, updated_at FROM usage_counters WHERE source_key = ?
	`, sourceKey)

	var c usage.Counter
	err := row.Scan(&c.SourceKey, &c.Used, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return usage.Counter{SourceKey: sourceKey}, nil
	}
	if err != nil {
		return usage.Counter{}, err
	}
	return c, nil
}

// EnsurePeriod lazily creates the monthly row for (user, period).
func (s *MeterStore) EnsurePeriod(ctx context.Context, userID string, periodStart time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_usage_monthly (user_id, period_start, used, overage_used)
		VALUES (?, ?, 0, 0)
		ON CONFLICT(user_id, period_start) DO NOTHING
	`, userID, periodStart.UTC().Format(periodDateLayout))
	if err != nil {
		return fmt.Errorf("ensure period: %w", err)
	}
	return nil
}

// Period returns the monthly aggregate, zero-valued when absent.
func (s *MeterStore) Period(ctx context.Context, userID string, periodStart time.Time) (quota.Period, error) {
	p := quota.Period{UserID: userID, PeriodStart: quota.PeriodStart(periodStart)}
	row := s.db.QueryRowContext(ctx, `
		SELECT used, overage_used FROM user_usage_monthly
		WHERE user_id = ? AND period_start = ?
	`, userID, periodStart.UTC().Format(periodDateLayout))

	err := row.Scan(&p.Used, &p.OverageUsed)
	if err == sql.ErrNoRows {
		return p, nil
	}
	if err != nil {
		return quota.Period{}, err
	}
	return p, nil
}

// Debit runs decide inside one write transaction. The opening insert takes
// SQLite's write lock, so concurrent debits for any user serialize here;
// that subsumes the per-row lock a server database would take.
func (s *MeterStore) Debit(ctx context.Context, userID string, periodStart time.Time, decide ports.DebitFunc) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	dateStr := periodStart.UTC().Format(periodDateLayout)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO user_usage_monthly (user_id, period_start, used, overage_used)
		VALUES (?, ?, 0, 0)
		ON CONFLICT(user_id, period_start) DO NOTHING
	`, userID, dateStr)
	if err != nil {
		return fmt.Errorf("ensure period: %w", err)
	}

	var u ports.User
	err = tx.QueryRowContext(ctx, `
		SELECT id, email, plan_slug, created_at, updated_at FROM users WHERE id = ?
	`, userID).Scan(&u.ID, &u.Email, &u.PlanSlug, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return ports.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}

	p := quota.Period{UserID: userID, PeriodStart: quota.PeriodStart(periodStart)}
	err = tx.QueryRowContext(ctx, `
		SELECT used, overage_used FROM user_usage_monthly
		WHERE user_id = ? AND period_start = ?
	`, userID, dateStr).Scan(&p.Used, &p.OverageUsed)
	if err != nil {
		return fmt.Errorf("load period: %w", err)
	}

	updated, commit, err := decide(u, p)
	if err != nil {
		return err
	}
	if !commit {
		// Blocked decision: roll back with no mutation.
		return nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE user_usage_monthly
		SET used = ?, overage_used = ?
		WHERE user_id = ? AND period_start = ?
	`, updated.Used, updated.OverageUsed, userID, dateStr)
	if err != nil {
		return fmt.Errorf("update period: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Ensure interface compliance.
var _ ports.MeterStore = (*MeterStore)(nil)
