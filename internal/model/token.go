package model

import "github.com/google/uuid"

// TokenManager mints and validates the session communication tokens handed
// to callers. The session id inside the token seeds the session cache key
// derivation.
type TokenManager interface {
	GenerateSessionToken(userID uuid.UUID) (token string, sessionID string, err error)
	ParseSessionToken(token string) (userID uuid.UUID, sessionID string, err error)
}
