package model

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SecretAccess wraps a secret's data key for one actor. Secrets themselves
// live outside this engine; only the key escrow rows are managed here.
type SecretAccess struct {
	ID              uuid.UUID
	SecretID        uuid.UUID
	ActorKind       ActorKind
	ActorID         uuid.UUID
	SecurityClassID uuid.UUID
	WrappedDataKey  KeyEnvelope
	CreatedAt       time.Time
}

// SecretAccessStore defines persistence operations for secret access rows.
type SecretAccessStore interface {
	GetForActor(ctx context.Context, secretID uuid.UUID, kind ActorKind, actorID uuid.UUID) (SecretAccess, error)
	ListForSecret(ctx context.Context, secretID uuid.UUID) ([]SecretAccess, error)
	// Replace is delete-then-insert keyed by (secret, actor).
	Replace(ctx context.Context, access SecretAccess) error
	Delete(ctx context.Context, secretID uuid.UUID, kind ActorKind, actorID uuid.UUID) error
}
