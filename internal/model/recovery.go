package model

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RecoveryEntry holds the out-of-band recovery material for one (user,
// plugin) registration: the factor payload sealed under a key derived from
// the recovery code, and an optional mailed token sealed under the system
// key. MAC binds user id, plugin id, payload and salt.
type RecoveryEntry struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	PluginID         string
	EncryptedPayload []byte
	Salt             []byte
	EncryptedToken   []byte
	MAC              []byte
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// RecoveryStore defines persistence operations for recovery entries. At most
// one live entry exists per (user, plugin); Replace is delete-then-insert.
type RecoveryStore interface {
	GetByUserPlugin(ctx context.Context, userID uuid.UUID, pluginID string) (RecoveryEntry, error)
	Replace(ctx context.Context, entry RecoveryEntry) error
	SetToken(ctx context.Context, id uuid.UUID, encryptedToken []byte) error
	Delete(ctx context.Context, userID uuid.UUID, pluginID string) error
}
