package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/metergate/metergate/ports"
)

// UserStore implements ports.UserStore using PostgreSQL.
type UserStore struct {
	db *DB
}

// NewUserStore creates a new PostgreSQL user store.
func NewUserStore(db *DB) *UserStore {
	return &UserStore{db: db}
}

// Get retrieves a user by ID.
func (s *UserStore) Get(ctx context.Context, id string) (ports.User, error) {
	return scanUser(s.db.QueryRow(ctx, `
		SELECT id, email, plan_slug, created_at, updated_at FROM users WHERE id = $1
	`, id))
}

// GetByEmail retrieves a user by email.
func (s *UserStore) GetByEmail(ctx context.Context, email string) (ports.User, error) {
	return scanUser(s.db.QueryRow(ctx, `
		SELECT id, email, plan_slug, created_at, updated_at FROM users WHERE email = $1
	`, email))
}

// Create stores a new user.
func (s *UserStore) Create(ctx context.Context, u ports.User) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO users (id, email, plan_slug, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, u.ID, u.Email, u.PlanSlug, u.CreatedAt.UTC(), u.UpdatedAt.UTC())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ports.ErrDuplicate
	}
	return err
}

// UpdatePlan changes a user's plan slug.
func (s *UserStore) UpdatePlan(ctx context.Context, id, planSlug string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE users SET plan_slug = $2, updated_at = $3 WHERE id = $1
	`, id, planSlug, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrNotFound
	}
	return nil
}

// List returns users with pagination.
func (s *UserStore) List(ctx context.Context, limit, offset int) ([]ports.User, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, email, plan_slug, created_at, updated_at FROM users
		ORDER BY created_at LIMIT $1 OFFSET $2
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

func scanUser(row pgx.Row) (ports.User, error) {
	var u ports.User
	err := row.Scan(&u.ID, &u.Email, &u.PlanSlug, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ports.User{}, ports.ErrNotFound
	}
	if err != nil {
		return ports.User{}, err
	}
	return u, nil
}

// Ensure interface compliance.
var _ ports.UserStore = (*UserStore)(nil)
