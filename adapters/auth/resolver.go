// Package auth resolves caller identity from API keys.
package auth

import (
	"context"
	"net/http"

	"github.com/metergate/metergate/domain/key"
	"github.com/metergate/metergate/ports"
)

// KeyResolver authenticates requests by API key header. The matched key's
// ID is also the source key external producers report usage against.
type KeyResolver struct {
	keys      ports.KeyStore
	users     ports.UserStore
	clock     ports.Clock
	header    string
	keyPrefix string
}

// Identity is a resolved caller.
type Identity struct {
	User  ports.User
	KeyID string
}

// NewKeyResolver creates a resolver reading rawKeys from the given header.
func NewKeyResolver(keys ports.KeyStore, users ports.UserStore, clock ports.Clock, header, keyPrefix string) *KeyResolver {
	if header == "" {
		header = "X-API-Key"
	}
	return &KeyResolver{keys: keys, users: users, clock: clock, header: header, keyPrefix: keyPrefix}
}

// Resolve returns the identity behind a request, or ErrNotFound when the
// key is missing, malformed, revoked, or unknown. Callers translate that
// into an authentication failure, outside the metering taxonomy.
func (r *KeyResolver) Resolve(ctx context.Context, req *http.Request) (Identity, error) {
	rawKey := req.Header.Get(r.header)
	prefix, ok := key.ValidateFormat(rawKey, r.keyPrefix)
	if !ok {
		return Identity{}, ports.ErrNotFound
	}

	candidates, err := r.keys.GetByPrefix(ctx, prefix)
	if err != nil {
		return Identity{}, err
	}

	now := r.clock.Now()
	for _, k := range candidates {
		if !k.Usable(now) || !k.Matches(rawKey) {
			continue
		}
		u, err := r.users.Get(ctx, k.UserID)
		if err != nil {
			return Identity{}, err
		}
		return Identity{User: u, KeyID: k.ID}, nil
	}
	return Identity{}, ports.ErrNotFound
}
