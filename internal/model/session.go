package model

import "context"

// SessionStore is the opaque per-session key/value store shared between
// concurrent requests of one session. Values are already encrypted by the
// caller; the store never sees plaintext key material.
//
// Get returns ErrNotFound for absent keys. Writes are last-write-wins; when
// two requests race on the same session the cache wipes and misses rather
// than serving mixed state.
type SessionStore interface {
	Get(ctx context.Context, sessionID, key string) ([]byte, error)
	Set(ctx context.Context, sessionID, key string, value []byte) error
	Delete(ctx context.Context, sessionID, key string) error
	// DeleteSession drops every value stored for the session.
	DeleteSession(ctx context.Context, sessionID string) error
}
