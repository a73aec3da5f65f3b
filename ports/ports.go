// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"errors"
	"time"

	"github.com/metergate/metergate/domain/key"
	"github.com/metergate/metergate/domain/quota"
	"github.com/metergate/metergate/domain/usage"
)

// ErrNotFound is returned when an entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a uniqueness constraint is violated.
var ErrDuplicate = errors.New("already exists")

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// Data Store Ports
// -----------------------------------------------------------------------------

// User represents an account, referenced by the metering core but owned
// elsewhere. PlanSlug and CreatedAt feed the plan policy resolver.
type User struct {
	ID        string
	Email     string
	PlanSlug  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UserStore persists user accounts.
type UserStore interface {
	// Get retrieves a user by ID.
	Get(ctx context.Context, id string) (User, error)

	// GetByEmail retrieves a user by email.
	GetByEmail(ctx context.Context, email string) (User, error)

	// Create stores a new user.
	Create(ctx context.Context, u User) error

	// UpdatePlan changes a user's plan slug.
	UpdatePlan(ctx context.Context, id, planSlug string) error

	// List returns users with pagination.
	List(ctx context.Context, limit, offset int) ([]User, error)
}

// KeyStore persists API keys.
type KeyStore interface {
	// GetByPrefix retrieves candidate keys for validation.
	GetByPrefix(ctx context.Context, prefix string) ([]key.Key, error)

	// Create stores a new key.
	Create(ctx context.Context, k key.Key) error

	// Revoke marks a key as revoked.
	Revoke(ctx context.Context, id string, at time.Time) error

	// ListByUser returns all keys for a user.
	ListByUser(ctx context.Context, userID string) ([]key.Key, error)
}

// DebitFunc decides a debit while the period row is held under the store's
// lock. It receives the owning user and the current period row and returns
// the updated row plus whether to commit. Returning commit=false rolls the
// transaction back without surfacing an error: blocked decisions are
// outcomes, not failures.
type DebitFunc func(u User, p quota.Period) (updated quota.Period, commit bool, err error)

// MeterStore persists usage events, per-key counters and monthly
// aggregates. All mutating methods are transactional: a failure leaves no
// partial state.
type MeterStore interface {
	// RecordEvent appends ev keyed by its idempotency key and, only when
	// the key has never been seen, adds the clamped delta to the counter
	// for ev.SourceKey. Both writes share one transaction. Returns whether
	// the event was newly applied; duplicates return false with no error.
	RecordEvent(ctx context.Context, ev usage.Event) (applied bool, err error)

	// Counter returns the accumulated units for a source key, zero-valued
	// when the key has never reported.
	Counter(ctx context.Context, sourceKey string) (usage.Counter, error)

	// EnsurePeriod inserts a zeroed monthly row if absent. Safe under
	// concurrent callers: insert-or-ignore, not read-then-write.
	EnsurePeriod(ctx context.Context, userID string, periodStart time.Time) error

	// Period returns the monthly aggregate, zero-valued when absent.
	Period(ctx context.Context, userID string, periodStart time.Time) (quota.Period, error)

	// Debit runs decide inside one transaction: it ensures the period row,
	// loads the user, locks the row so concurrent debits for the same
	// (user, period) serialize, and persists the updated row only when
	// decide commits.
	Debit(ctx context.Context, userID string, periodStart time.Time, decide DebitFunc) error
}
