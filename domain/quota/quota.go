// Package quota provides pure functions for monthly quota accounting.
// All functions are deterministic with no side effects; persistence and
// locking live in the store adapters.
package quota

import (
	"time"

	"github.com/metergate/metergate/domain/plan"
)

// BlockedReason identifies why an admission decision denied a request.
// Blocks are first-class outcomes, not errors: callers render an upgrade
// path rather than a failure.
type BlockedReason string

const (
	ReasonNone          BlockedReason = ""
	ReasonQuotaExceeded BlockedReason = "quota_exceeded"
	ReasonPlanSunset    BlockedReason = "plan_sunset"
)

// Period is the per-(user, calendar month) usage aggregate (value type).
type Period struct {
	UserID      string
	PeriodStart time.Time
	Used        int64
	OverageUsed int64
}

// Status is the outcome of a debit or status read (value type).
type Status struct {
	Plan          plan.Plan
	PeriodStart   time.Time
	Used          int64
	OverageUsed   int64
	Quota         int64
	Remaining     int64
	AllowOverage  bool
	BlockedReason BlockedReason
}

// Blocked reports whether the status denies admission.
func (s Status) Blocked() bool {
	return s.BlockedReason != ReasonNone
}

// Outcome is the result of applying a debit against a period row.
type Outcome struct {
	// Allowed is false when the debit must roll back without mutation.
	Allowed bool
	// Period holds the post-debit row when Allowed, the pre-debit row otherwise.
	Period Period
	Status Status
}

// PeriodStart returns the UTC first-of-month instant for t.
// This is a PURE function.
func PeriodStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Apply computes the debit decision for cost units against a period row.
// The caller runs it with the row held under a pessimistic lock and
// persists Outcome.Period only when Allowed.
//
// When the plan disallows overage and the debit would cross the quota, the
// pre-debit state is returned untouched: a rejected debit is never
// partially applied. When overage is allowed, only the portion of this
// debit that crosses the quota boundary counts as overage, so a single
// debit that straddles the boundary is split correctly.
// This is a PURE function.
func Apply(p plan.Plan, period Period, cost int64) Outcome {
	newUsed := period.Used + cost

	if !p.AllowOverage && newUsed > p.MonthlyQuota {
		return Outcome{
			Allowed: false,
			Period:  period,
			Status:  statusFor(p, period, ReasonQuotaExceeded),
		}
	}

	updated := period
	if p.AllowOverage && newUsed > p.MonthlyQuota {
		deltaOver := newUsed - max64(p.MonthlyQuota, period.Used)
		updated.OverageUsed += deltaOver
	}
	updated.Used = newUsed

	return Outcome{
		Allowed: true,
		Period:  updated,
		Status:  statusFor(p, updated, ReasonNone),
	}
}

// StatusFor builds a status snapshot from a period row without mutating it.
// This is a PURE function.
func StatusFor(p plan.Plan, period Period) Status {
	return statusFor(p, period, ReasonNone)
}

// SunsetStatus is the early-exit status for a sunset-blocked debit. It
// reports zero usage: the debit path rolls back before reading the period
// row, and callers in that branch only render plan and blocked state.
// See TestDebit_SunsetReportsZeroUsage.
// This is a PURE function.
func SunsetStatus(p plan.Plan, periodStart time.Time) Status {
	return Status{
		Plan:          p,
		PeriodStart:   periodStart,
		Quota:         p.MonthlyQuota,
		AllowOverage:  p.AllowOverage,
		BlockedReason: ReasonPlanSunset,
	}
}

func statusFor(p plan.Plan, period Period, reason BlockedReason) Status {
	return Status{
		Plan:          p,
		PeriodStart:   period.PeriodStart,
		Used:          period.Used,
		OverageUsed:   period.OverageUsed,
		Quota:         p.MonthlyQuota,
		Remaining:     max64(p.MonthlyQuota-period.Used, 0),
		AllowOverage:  p.AllowOverage,
		BlockedReason: reason,
	}
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
