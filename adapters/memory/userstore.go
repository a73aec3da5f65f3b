package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/metergate/metergate/ports"
)

// UserStore implements ports.UserStore in memory.
type UserStore struct {
	mu    sync.RWMutex
	users map[string]ports.User
}

// NewUserStore creates an in-memory user store.
func NewUserStore() *UserStore {
	return &UserStore{users: make(map[string]ports.User)}
}

// Get retrieves a user by ID.
func (s *UserStore) Get(_ context.Context, id string) (ports.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return ports.User{}, ports.ErrNotFound
	}
	return u, nil
}

// GetByEmail retrieves a user by email.
func (s *UserStore) GetByEmail(_ context.Context, email string) (ports.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return ports.User{}, ports.ErrNotFound
}

// Create stores a new user.
func (s *UserStore) Create(_ context.Context, u ports.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[u.ID]; exists {
		return ports.ErrDuplicate
	}
	s.users[u.ID] = u
	return nil
}

// UpdatePlan changes a user's plan slug.
func (s *UserStore) UpdatePlan(_ context.Context, id, planSlug string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return ports.ErrNotFound
	}
	u.PlanSlug = planSlug
	u.UpdatedAt = time.Now().UTC()
	s.users[id] = u
	return nil
}

// List returns users with pagination, ordered by creation time.
func (s *UserStore) List(_ context.Context, limit, offset int) ([]ports.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]ports.User, 0, len(s.users))
	for _, u := range s.users {
		all = append(all, u)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })

	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

// Ensure interface compliance.
var _ ports.UserStore = (*UserStore)(nil)
