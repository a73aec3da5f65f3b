// Package key provides API key value types and pure validation functions.
// The key ID doubles as the source key for usage counters reported by
// external producers.
package key

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// prefixLen is how many leading characters of the raw key are stored in
// clear for database lookup.
const prefixLen = 12

// Key represents an API key (immutable value type). Only the bcrypt hash
// of the full raw key is stored.
type Key struct {
	ID        string
	UserID    string
	Hash      []byte
	Prefix    string
	Name      string
	RevokedAt *time.Time
	CreatedAt time.Time
}

// Generate creates a new API key. It returns the raw key, shown to the
// caller exactly once, and the Key to persist.
// The raw key is prefix + 64 hex chars.
func Generate(prefix string) (rawKey string, k Key) {
	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	rawKey = prefix + hex.EncodeToString(randomBytes)

	hash, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.DefaultCost)
	if err != nil {
		panic(fmt.Sprintf("bcrypt failed: %v", err))
	}

	idBytes := make([]byte, 8)
	rand.Read(idBytes)

	k = Key{
		ID:        "key_" + hex.EncodeToString(idBytes),
		Hash:      hash,
		Prefix:    rawKey[:prefixLen],
		CreatedAt: time.Now().UTC(),
	}
	return rawKey, k
}

// ValidateFormat checks the shape of a presented raw key and returns the
// lookup prefix. This is a PURE function.
func ValidateFormat(rawKey, expectedPrefix string) (prefix string, valid bool) {
	if !strings.HasPrefix(rawKey, expectedPrefix) {
		return "", false
	}
	if len(rawKey) < len(expectedPrefix)+64 {
		return "", false
	}
	return rawKey[:prefixLen], true
}

// Matches reports whether rawKey is the key hashed into k.
func (k Key) Matches(rawKey string) bool {
	return bcrypt.CompareHashAndPassword(k.Hash, []byte(rawKey)) == nil
}

// Usable reports whether the key may authenticate at time now.
// This is a PURE function.
func (k Key) Usable(now time.Time) bool {
	return k.RevokedAt == nil || now.Before(*k.RevokedAt)
}

// WithID returns a copy of the key with the given ID, replacing the
// generated one. Callers that mint IDs through an injected generator use
// this to keep key IDs under their control.
func (k Key) WithID(id string) Key {
	k.ID = id
	return k
}

// WithUserID returns a copy of the key bound to a user.
func (k Key) WithUserID(userID string) Key {
	k.UserID = userID
	return k
}

// WithName returns a copy of the key with a display name.
func (k Key) WithName(name string) Key {
	k.Name = name
	return k
}
