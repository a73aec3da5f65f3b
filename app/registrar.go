package app

import (
	"context"
	"fmt"

	"github.com/metergate/metergate/domain/key"
	"github.com/metergate/metergate/ports"
)

// Registrar provisions users and their API keys. IDs are minted through
// the IDGenerator port so callers control the scheme and tests get
// deterministic values.
type Registrar struct {
	users     ports.UserStore
	keys      ports.KeyStore
	ids       ports.IDGenerator
	clock     ports.Clock
	keyPrefix string
}

// RegistrarDeps contains dependencies for Registrar.
type RegistrarDeps struct {
	Users ports.UserStore
	Keys  ports.KeyStore
	IDs   ports.IDGenerator
	Clock ports.Clock
}

// NewRegistrar creates a new provisioning service. keyPrefix is the raw
// key prefix issued keys carry.
func NewRegistrar(deps RegistrarDeps, keyPrefix string) *Registrar {
	return &Registrar{
		users:     deps.Users,
		keys:      deps.Keys,
		ids:       deps.IDs,
		clock:     deps.Clock,
		keyPrefix: keyPrefix,
	}
}

// CreateUser mints an ID and stores a new user on the given plan.
func (r *Registrar) CreateUser(ctx context.Context, email, planSlug string) (ports.User, error) {
	now := r.clock.Now().UTC()
	u := ports.User{
		ID:        "user_" + r.ids.New(),
		Email:     email,
		PlanSlug:  planSlug,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.users.Create(ctx, u); err != nil {
		return ports.User{}, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// IssueKey generates and stores an API key for an existing user. The raw
// key is returned exactly once; only its hash is persisted. The key ID
// doubles as the source key usage producers report against.
func (r *Registrar) IssueKey(ctx context.Context, userID, name string) (rawKey string, k key.Key, err error) {
	if _, err := r.users.Get(ctx, userID); err != nil {
		return "", key.Key{}, fmt.Errorf("load user: %w", err)
	}

	rawKey, k = key.Generate(r.keyPrefix)
	k = k.WithID("key_" + r.ids.New()).WithUserID(userID)
	if name != "" {
		k = k.WithName(name)
	}

	if err := r.keys.Create(ctx, k); err != nil {
		return "", key.Key{}, fmt.Errorf("create key: %w", err)
	}
	return rawKey, k, nil
}
