// Package app provides application services that orchestrate domain logic.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/metergate/metergate/adapters/metrics"
	"github.com/metergate/metergate/domain/plan"
	"github.com/metergate/metergate/domain/quota"
	"github.com/metergate/metergate/domain/usage"
	"github.com/metergate/metergate/ports"
	"github.com/rs/zerolog"
)

// ErrMalformedPayload is returned when an ingested event fails validation.
// It is a permanent caller error, never retried.
var ErrMalformedPayload = errors.New("malformed payload")

// MeterService is the metering core: idempotent event ingestion, monthly
// usage accounting, and atomic admission decisions.
type MeterService struct {
	store  ports.MeterStore
	users  ports.UserStore
	clock  ports.Clock
	logger zerolog.Logger

	// metrics is optional; nil disables collection.
	metrics *metrics.Collector

	// catalog is hot-reloadable: the plan table may be swapped while
	// debits are in flight.
	catalog atomic.Pointer[plan.Catalog]
}

// MeterDeps contains dependencies for MeterService.
type MeterDeps struct {
	Store   ports.MeterStore
	Users   ports.UserStore
	Clock   ports.Clock
	Logger  zerolog.Logger
	Metrics *metrics.Collector
}

// NewMeterService creates a new metering service.
func NewMeterService(deps MeterDeps, plans []plan.Plan, fallback string) *MeterService {
	s := &MeterService{
		store:   deps.Store,
		users:   deps.Users,
		clock:   deps.Clock,
		logger:  deps.Logger.With().Str("component", "meter").Logger(),
		metrics: deps.Metrics,
	}
	s.UpdatePlans(plans, fallback)
	return s
}

// UpdatePlans swaps the plan table. Thread-safe; in-flight debits keep the
// catalog they started with.
func (s *MeterService) UpdatePlans(plans []plan.Plan, fallback string) {
	c := plan.NewCatalog(plans, fallback)
	s.catalog.Store(&c)
}

// Plans returns the current plan table.
func (s *MeterService) Plans() plan.Catalog {
	return *s.catalog.Load()
}

// Ingest records a usage event exactly once per idempotency key. Callers
// deliver at least once; duplicates return applied=false with no error and
// no counter movement. The delta is clamped to a zero floor before it is
// applied, so negative deltas are logged for audit only.
func (s *MeterService) Ingest(ctx context.Context, ev usage.Event) (applied bool, err error) {
	if err := ev.Validate(); err != nil {
		s.countIngest("malformed")
		return false, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.clock.Now().UTC()
	}

	applied, err = s.store.RecordEvent(ctx, ev)
	if err != nil {
		s.countIngest("error")
		return false, fmt.Errorf("record event: %w", err)
	}

	if applied {
		s.countIngest("applied")
		s.logger.Debug().
			Str("source_key", ev.SourceKey).
			Int64("delta", ev.Delta).
			Str("idempotency_key", ev.IdempotencyKey).
			Msg("usage event applied")
	} else {
		s.countIngest("duplicate")
		if s.metrics != nil {
			s.metrics.IngestDuplicates.Inc()
		}
		s.logger.Debug().
			Str("idempotency_key", ev.IdempotencyKey).
			Msg("duplicate usage event ignored")
	}
	return applied, nil
}

// Counter returns the accumulated units for a source key.
func (s *MeterService) Counter(ctx context.Context, sourceKey string) (usage.Counter, error) {
	return s.store.Counter(ctx, sourceKey)
}

// Debit atomically decides whether userID may spend cost units this month
// and, when permitted, applies the spend. Blocked outcomes carry a
// BlockedReason and leave counters untouched.
//
// The sunset early exit reports zero usage rather than the accumulated
// value; the transaction rolls back before the period row is read, so
// callers in that branch only see plan and blocked state.
func (s *MeterService) Debit(ctx context.Context, userID string, cost int64) (quota.Status, error) {
	if cost <= 0 {
		cost = 1
	}
	now := s.clock.Now()
	periodStart := quota.PeriodStart(now)
	catalog := s.Plans()

	var st quota.Status
	start := time.Now()

	err := s.store.Debit(ctx, userID, periodStart, func(u ports.User, p quota.Period) (quota.Period, bool, error) {
		pl := catalog.BySlug(u.PlanSlug)

		// The sunset rule is evaluated on every debit: it moves with the
		// wall clock, not with usage.
		if plan.SunsetBlocked(pl, u.CreatedAt, now) {
			st = quota.SunsetStatus(pl, periodStart)
			return p, false, nil
		}

		out := quota.Apply(pl, p, cost)
		st = out.Status
		return out.Period, out.Allowed, nil
	})
	if s.metrics != nil {
		s.metrics.DebitDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		s.countDebit("error", "")
		return quota.Status{}, fmt.Errorf("debit: %w", err)
	}

	outcome := "allowed"
	if st.Blocked() {
		outcome = string(st.BlockedReason)
		s.logger.Info().
			Str("user_id", userID).
			Str("plan", st.Plan.Slug).
			Str("reason", outcome).
			Int64("used", st.Used).
			Msg("debit blocked")
	}
	s.countDebit(outcome, st.Plan.Slug)
	return st, nil
}

// Status returns the caller's current standing without debiting. The
// period row is created lazily so a fresh month reads as zero usage, and
// the sunset rule is reported the same way a debit would block.
func (s *MeterService) Status(ctx context.Context, userID string) (quota.Status, error) {
	now := s.clock.Now()
	periodStart := quota.PeriodStart(now)

	if err := s.store.EnsurePeriod(ctx, userID, periodStart); err != nil {
		return quota.Status{}, fmt.Errorf("ensure period: %w", err)
	}

	u, err := s.users.Get(ctx, userID)
	if err != nil {
		return quota.Status{}, fmt.Errorf("load user: %w", err)
	}

	p, err := s.store.Period(ctx, userID, periodStart)
	if err != nil {
		return quota.Status{}, fmt.Errorf("load period: %w", err)
	}

	pl := s.Plans().BySlug(u.PlanSlug)
	st := quota.StatusFor(pl, p)
	if plan.SunsetBlocked(pl, u.CreatedAt, now) {
		st.BlockedReason = quota.ReasonPlanSunset
	}
	return st, nil
}

func (s *MeterService) countIngest(result string) {
	if s.metrics != nil {
		s.metrics.IngestTotal.WithLabelValues(result).Inc()
	}
}

func (s *MeterService) countDebit(outcome, planSlug string) {
	if s.metrics != nil {
		s.metrics.DebitsTotal.WithLabelValues(outcome, planSlug).Inc()
	}
}
