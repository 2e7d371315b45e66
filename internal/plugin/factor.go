// Package plugin exposes authentication factors to the rest of the engine.
// Each concrete factor implements AuthFactor and is registered into a typed
// Registry at process startup; everything above talks to the Adapter, which
// adds key-pair escrow, MAC protection and session-cache integration around
// the raw factor.
package plugin

import (
	"context"

	"github.com/google/uuid"

	"github.com/evgray/keyfort-server/internal/crypto"
)

// AuthFactor is the capability contract a factor module implements. The
// factor owns its own authentication state (salts, verifiers, OTP seeds);
// the engine never sees factor secrets beyond the derived key.
type AuthFactor interface {
	ID() string
	Title() string
	Description() string

	// Register stores the factor state for a user.
	Register(ctx context.Context, userID uuid.UUID, info *crypto.Hidden) error
	// Authenticate checks the submitted factor information.
	Authenticate(ctx context.Context, userID uuid.UUID, info *crypto.Hidden) error
	// DeriveKey deterministically derives the user's symmetric key from the
	// factor information and the factor's stored state.
	DeriveKey(ctx context.Context, userID uuid.UUID, info *crypto.Hidden) (crypto.Key, error)
	// ChangeAuthInfo replaces the stored factor state. Callers authenticate
	// with the old information first.
	ChangeAuthInfo(ctx context.Context, userID uuid.UUID, oldInfo, newInfo *crypto.Hidden) error
	// Deregister removes the factor state for a user.
	Deregister(ctx context.Context, userID uuid.UUID) error
}
