// Package usage provides usage event value types and pure validation.
package usage

import (
	"errors"
	"time"
)

// ErrMalformed is returned when an inbound event is missing required
// fields. It maps to a permanent 4xx outcome at the ingestion boundary.
var ErrMalformed = errors.New("malformed usage event")

// Event is an append-only usage log entry (immutable value type).
// Uniqueness on IdempotencyKey is the sole exactly-once mechanism: the
// store ignores re-submissions of a key it has already seen.
type Event struct {
	IdempotencyKey string
	SourceKey      string
	Delta          int64
	Endpoint       string
	Timestamp      time.Time
	RequestID      string
	Metadata       map[string]string
}

// Validate checks the ingestion preconditions. Delta may be negative
// (negative deltas are logged for audit but clamped before application).
func (e Event) Validate() error {
	if e.IdempotencyKey == "" || e.SourceKey == "" {
		return ErrMalformed
	}
	return nil
}

// AppliedDelta returns the counter increment for this event: deltas are
// clamped to a zero floor so the counter never decreases.
// This is a PURE function.
func (e Event) AppliedDelta() int64 {
	if e.Delta < 0 {
		return 0
	}
	return e.Delta
}

// Counter is the running total of applied units for a source key.
// It is monotonically non-decreasing (value type).
type Counter struct {
	SourceKey string
	Used      int64
	UpdatedAt time.Time
}
