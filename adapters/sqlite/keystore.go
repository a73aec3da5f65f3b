package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/metergate/metergate/domain/key"
	"github.com/metergate/metergate/ports"
)

// KeyStore implements ports.KeyStore using SQLite.
type KeyStore struct {
	db *DB
}

// NewKeyStore creates a new SQLite key store.
func NewKeyStore(db *DB) *KeyStore {
	return &KeyStore{db: db}
}

// GetByPrefix retrieves candidate keys for validation.
func (s *KeyStore) GetByPrefix(ctx context.Context, prefix string) ([]key.Key, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, hash, prefix, name, revoked_at, created_at
		FROM api_keys WHERE prefix = ?
	`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanKeys(rows)
}

// Create stores a new key.
func (s *KeyStore) Create(ctx context.Context, k key.Key) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, user_id, hash, prefix, name, revoked_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, k.ID, k.UserID, k.Hash, k.Prefix, k.Name, k.RevokedAt, k.CreatedAt.UTC())
	return err
}

// Revoke marks a key as revoked.
func (s *KeyStore) Revoke(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE api_keys SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL
	`, at.UTC(), id)
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

// ListByUser returns all keys for a user.
func (s *KeyStore) ListByUser(ctx context.Context, userID string) ([]key.Key, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, hash, prefix, name, revoked_at, created_at
		FROM api_keys WHERE user_id = ? ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanKeys(rows)
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanKeys(rows rowScanner) ([]key.Key, error) {
	var keys []key.Key
	for rows.Next() {
		var (
			k       key.Key
			revoked sql.NullTime
		)
		if err := rows.Scan(&k.ID, &k.UserID, &k.Hash, &k.Prefix, &k.Name, &revoked, &k.CreatedAt); err != nil {
			return nil, err
		}
		if revoked.Valid {
			t := revoked.Time
			k.RevokedAt = &t
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Ensure interface compliance.
var _ ports.KeyStore = (*KeyStore)(nil)
