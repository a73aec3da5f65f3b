// Package memory provides in-memory implementations of storage ports for
// tests and local development. A single mutex per store stands in for the
// database's transaction serialization; it is not a substitute for the
// real concurrency tests against SQLite.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/metergate/metergate/domain/quota"
	"github.com/metergate/metergate/domain/usage"
	"github.com/metergate/metergate/ports"
)

// MeterStore implements ports.MeterStore in memory.
type MeterStore struct {
	mu       sync.Mutex
	users    *UserStore // user rows read inside debit transactions
	events   map[string]usage.Event
	counters map[string]usage.Counter
	periods  map[periodKey]quota.Period

	// FailNext forces the next mutating call to return this error, for
	// exercising rollback paths.
	FailNext error
}

type periodKey struct {
	userID string
	start  time.Time
}

// NewMeterStore creates an in-memory meter store. Debit reads user rows
// from users, mirroring the SQL stores' in-transaction user load.
func NewMeterStore(users *UserStore) *MeterStore {
	return &MeterStore{
		users:    users,
		events:   make(map[string]usage.Event),
		counters: make(map[string]usage.Counter),
		periods:  make(map[periodKey]quota.Period),
	}
}

// RecordEvent appends an event, applying the clamped delta only on first
// sight of the idempotency key.
func (s *MeterStore) RecordEvent(_ context.Context, ev usage.Event) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure(); err != nil {
		return false, err
	}

	if _, seen := s.events[ev.IdempotencyKey]; seen {
		return false, nil
	}
	s.events[ev.IdempotencyKey] = ev

	c := s.counters[ev.SourceKey]
	c.SourceKey = ev.SourceKey
	c.Used += ev.AppliedDelta()
	c.UpdatedAt = time.Now().UTC()
	s.counters[ev.SourceKey] = c
	return true, nil
}

// Counter returns the accumulated units for a source key.
func (s *MeterStore) Counter(_ context.Context, sourceKey string) (usage.Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.counters[sourceKey]; ok {
		return c, nil
	}
	return usage.Counter{SourceKey: sourceKey}, nil
}

// EnsurePeriod lazily creates the monthly row.
func (s *MeterStore) EnsurePeriod(_ context.Context, userID string, periodStart time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure(); err != nil {
		return err
	}
	s.ensureLocked(userID, periodStart)
	return nil
}

// Period returns the monthly aggregate, zero-valued when absent.
func (s *MeterStore) Period(_ context.Context, userID string, periodStart time.Time) (quota.Period, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := periodKey{userID, quota.PeriodStart(periodStart)}
	if p, ok := s.periods[k]; ok {
		return p, nil
	}
	return quota.Period{UserID: userID, PeriodStart: k.start}, nil
}

// Debit runs decide under the store mutex, persisting the updated row only
// when decide commits.
func (s *MeterStore) Debit(ctx context.Context, userID string, periodStart time.Time, decide ports.DebitFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure(); err != nil {
		return err
	}

	u, err := s.users.Get(ctx, userID)
	if err != nil {
		return err
	}

	p := s.ensureLocked(userID, periodStart)

	updated, commit, err := decide(u, p)
	if err != nil {
		return err
	}
	if !commit {
		return nil
	}

	s.periods[periodKey{userID, p.PeriodStart}] = updated
	return nil
}

// Events returns the number of recorded events (test helper).
func (s *MeterStore) Events() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *MeterStore) ensureLocked(userID string, periodStart time.Time) quota.Period {
	k := periodKey{userID, quota.PeriodStart(periodStart)}
	if p, ok := s.periods[k]; ok {
		return p
	}
	p := quota.Period{UserID: userID, PeriodStart: k.start}
	s.periods[k] = p
	return p
}

func (s *MeterStore) takeFailure() error {
	if s.FailNext != nil {
		err := s.FailNext
		s.FailNext = nil
		return err
	}
	return nil
}

// Ensure interface compliance.
var _ ports.MeterStore = (*MeterStore)(nil)
