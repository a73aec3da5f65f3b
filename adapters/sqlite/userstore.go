package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/metergate/metergate/ports"
)

// UserStore implements ports.UserStore using SQLite.
type UserStore struct {
	db *DB
}

// NewUserStore creates a new SQLite user store.
func NewUserStore(db *DB) *UserStore {
	return &UserStore{db: db}
}

// Get retrieves a user by ID.
func (s *UserStore) Get(ctx context.Context, id string) (ports.User, error) {
	return s.scanOne(s.db.QueryRowContext(ctx, `
		SELECT id, email, plan_slug, created_at, updated_at FROM users WHERE id = ?
	`, id))
}

// GetByEmail retrieves a user by email.
func (s *UserStore) GetByEmail(ctx context.Context, email string) (ports.User, error) {
	return s.scanOne(s.db.QueryRowContext(ctx, `
		SELECT id, email, plan_slug, created_at, updated_at FROM users WHERE email = ?
	`, email))
}

// Create stores a new user.
func (s *UserStore) Create(ctx context.Context, u ports.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, plan_slug, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, u.ID, u.Email, u.PlanSlug, u.CreatedAt.UTC(), u.UpdatedAt.UTC())
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return ports.ErrDuplicate
	}
	return err
}

// UpdatePlan changes a user's plan slug.
func (s *UserStore) UpdatePlan(ctx context.Context, id, planSlug string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET plan_slug = ?, updated_at = ? WHERE id = ?
	`, planSlug, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ports.ErrNotFound
	}
	return nil
}

// List returns users with pagination.
func (s *UserStore) List(ctx context.Context, limit, offset int) ([]ports.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, email, plan_slug, created_at, updated_at FROM users
		ORDER BY created_at LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []ports.User
	for rows.Next() {
		var u ports.User
		if err := rows.Scan(&u.ID, &u.Email, &u.PlanSlug, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *UserStore) scanOne(row *sql.Row) (ports.User, error) {
	var u ports.User
	err := row.Scan(&u.ID, &u.Email, &u.PlanSlug, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return ports.User{}, ports.ErrNotFound
	}
	if err != nil {
		return ports.User{}, err
	}
	return u, nil
}

// Ensure interface compliance.
var _ ports.UserStore = (*UserStore)(nil)
