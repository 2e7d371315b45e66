package model

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AuthKeyPair is the asymmetric key pair escrowed for one (user, plugin)
// registration. The private half is encrypted under the derived key for that
// plugin; MAC covers public key and encrypted private key and is keyed by
// the system authentication key.
type AuthKeyPair struct {
	ID                  uuid.UUID
	UserID              uuid.UUID
	PluginID            string
	PublicKey           []byte
	EncryptedPrivateKey []byte
	MAC                 []byte
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// KeyPairStore defines persistence operations for escrowed user key pairs.
// Every registered (user, plugin) pair has exactly one row.
type KeyPairStore interface {
	GetByUserPlugin(ctx context.Context, userID uuid.UUID, pluginID string) (AuthKeyPair, error)
	Create(ctx context.Context, kp AuthKeyPair) (AuthKeyPair, error)
	Update(ctx context.Context, kp AuthKeyPair) error
	DeleteByUserPlugin(ctx context.Context, userID uuid.UUID, pluginID string) error
	RegisteredUserIDs(ctx context.Context, pluginID string) ([]uuid.UUID, error)
	// CountForUser counts among pluginIDs those the user is registered with.
	CountForUser(ctx context.Context, userID uuid.UUID, pluginIDs []string) (int, error)
}

// GroupKeyPair is the single key pair a group holds per security class. The
// private half is never stored here; members hold it wrapped in GroupAccess
// rows.
type GroupKeyPair struct {
	ID              uuid.UUID
	GroupID         uuid.UUID
	SecurityClassID uuid.UUID
	PublicKey       []byte
	CreatedAt       time.Time
}

// GroupKeyPairStore defines persistence operations for group key pairs.
type GroupKeyPairStore interface {
	GetByGroupClass(ctx context.Context, groupID, classID uuid.UUID) (GroupKeyPair, error)
	Create(ctx context.Context, kp GroupKeyPair) (GroupKeyPair, error)
}

// KeyEnvelope maps plugin ids to a payload sealed to the public key of the
// owner's key pair for that plugin. Any single registered factor can open
// its slot once the class threshold has been satisfied.
type KeyEnvelope map[string][]byte

// GroupAccess wraps a group's private key for one member, scoped by security
// class.
type GroupAccess struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	GroupID         uuid.UUID
	SecurityClassID uuid.UUID
	WrappedGroupKey KeyEnvelope
	CreatedAt       time.Time
}

// GroupAccessStore defines persistence operations for group access rows.
// Replace is delete-then-insert so no partial state survives a retry.
type GroupAccessStore interface {
	GetByUserGroupClass(ctx context.Context, userID, groupID, classID uuid.UUID) (GroupAccess, error)
	Replace(ctx context.Context, access GroupAccess) error
	DeleteByClass(ctx context.Context, classID uuid.UUID) error
}
