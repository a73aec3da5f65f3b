package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/metergate/metergate/domain/key"
	"github.com/metergate/metergate/ports"
)

// KeyStore implements ports.KeyStore using PostgreSQL.
type KeyStore struct {
	db *DB
}

// NewKeyStore creates a new PostgreSQL key store.
func NewKeyStore(db *DB) *KeyStore {
	return &KeyStore{db: db}
}

// GetByPrefix retrieves candidate keys for validation.
func (s *KeyStore) GetByPrefix(ctx context.Context, prefix string) ([]key.Key, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, hash, prefix, name, revoked_at, created_at
		FROM api_keys WHERE prefix = $1
	`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectKeys(rows)
}

// Create stores a new key.
func (s *KeyStore) Create(ctx context.Context, k key.Key) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO api_keys (id, user_id, hash, prefix, name, revoked_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, k.ID, k.UserID, k.Hash, k.Prefix, k.Name, k.RevokedAt, k.CreatedAt.UTC())
	return err
}

// Revoke marks a key as revoked.
func (s *KeyStore) Revoke(ctx context.Context, id string, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE api_keys SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL
	`, id, at.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrNotFound
	}
	return nil
}

// ListByUser returns all keys for a user.
func (s *KeyStore) ListByUser(ctx context.Context, userID string) ([]key.Key, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, hash, prefix, name, revoked_at, created_at
		FROM api_keys WHERE user_id = $1 ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectKeys(rows)
}

func collectKeys(rows pgx.Rows) ([]key.Key, error) {
	var keys []key.Key
	for rows.Next() {
		var k key.Key
		if err := rows.Scan(&k.ID, &k.UserID, &k.Hash, &k.Prefix, &k.Name, &k.RevokedAt, &k.CreatedAt); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Ensure interface compliance.
var _ ports.KeyStore = (*KeyStore)(nil)
