package memory

import (
	"context"
	"sync"
	"time"

	"github.com/metergate/metergate/domain/key"
	"github.com/metergate/metergate/ports"
)

// KeyStore implements ports.KeyStore in memory.
type KeyStore struct {
	mu   sync.RWMutex
	keys map[string]key.Key
}

// NewKeyStore creates an in-memory key store.
func NewKeyStore() *KeyStore {
	return &KeyStore{keys: make(map[string]key.Key)}
}

// GetByPrefix retrieves candidate keys for validation.
func (s *KeyStore) GetByPrefix(_ context.Context, prefix string) ([]key.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []key.Key
	for _, k := range s.keys {
		if k.Prefix == prefix {
			out = append(out, k)
		}
	}
	return out, nil
}

// Create stores a new key.
func (s *KeyStore) Create(_ context.Context, k key.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.keys[k.ID]; exists {
		return ports.ErrDuplicate
	}
	s.keys[k.ID] = k
	return nil
}

// Revoke marks a key as revoked.
func (s *KeyStore) Revoke(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[id]
	if !ok || k.RevokedAt != nil {
		return ports.ErrNotFound
	}
	at = at.UTC()
	k.RevokedAt = &at
	s.keys[id] = k
	return nil
}

// ListByUser returns all keys for a user.
func (s *KeyStore) ListByUser(_ context.Context, userID string) ([]key.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []key.Key
	for _, k := range s.keys {
		if k.UserID == userID {
			out = append(out, k)
		}
	}
	return out, nil
}

// Ensure interface compliance.
var _ ports.KeyStore = (*KeyStore)(nil)
