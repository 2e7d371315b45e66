// Package sessioncache stores derived keys for the lifetime of a session so
// factors need not be re-entered on every operation. Factor secrets
// themselves are never stored; only derived key material, and only encrypted
// under a per-session key.
package sessioncache

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/evgray/keyfort-server/internal/crypto"
	"github.com/evgray/keyfort-server/internal/logger"
	"github.com/evgray/keyfort-server/internal/model"
)

// Mode controls how long a cached derived key stays usable.
type Mode int

const (
	// SingleAction keys are deleted after the first read.
	SingleAction Mode = iota
	// Time keys stay readable until the configured TTL elapses.
	Time
)

// Session store keys holding the encrypted auth-key map and its mode flag.
const (
	authKeysKey = "keyfort_authkeys"
	authModeKey = "keyfort_authmode"
)

type modeState struct {
	Mode      Mode  `cbor:"m"`
	StartTime int64 `cbor:"t"`
}

// Cache is the session auth-key cache for one request. The runtime map is
// request-scoped; the encrypted map in the session store is shared between
// concurrent requests of the same session with last-write-wins semantics.
type Cache struct {
	sessionID string
	ownerID   uuid.UUID
	store     model.SessionStore
	keys      *KeyCache
	systemKey []byte
	ttl       time.Duration
	now       func() time.Time
	log       *logger.Logger

	mu      sync.Mutex
	runtime map[string]crypto.Key
}

func New(sessionID string, ownerID uuid.UUID, store model.SessionStore, keys *KeyCache, systemKey []byte, ttl time.Duration, log *logger.Logger) *Cache {
	return &Cache{
		sessionID: sessionID,
		ownerID:   ownerID,
		store:     store,
		keys:      keys,
		systemKey: systemKey,
		ttl:       ttl,
		now:       time.Now,
		log:       log,
		runtime:   make(map[string]crypto.Key),
	}
}

func (c *Cache) SessionID() string  { return c.sessionID }
func (c *Cache) OwnerID() uuid.UUID { return c.ownerID }

// sessionKey returns the key protecting this session's auth-key map,
// deriving a fresh one with a random salt if the key cache has none.
func (c *Cache) sessionKey() (crypto.Key, error) {
	if key, ok := c.keys.Get(c.sessionID); ok {
		return key, nil
	}

	salt, err := crypto.RandomSalt()
	if err != nil {
		return nil, err
	}
	key, err := crypto.SessionKey(c.systemKey, c.sessionID, salt)
	if err != nil {
		return nil, err
	}

	c.keys.Put(c.sessionID, key)
	return key, nil
}

// SaveAuthKey records a derived key for the plugin. The key is always kept
// in the request-scoped runtime map; with persist it is additionally sealed
// under the session key and written to the session store.
func (c *Cache) SaveAuthKey(ctx context.Context, pluginID string, key crypto.Key, persist bool, mode Mode) error {
	c.mu.Lock()
	c.runtime[pluginID] = cloneKey(key)
	c.mu.Unlock()

	if !persist {
		return nil
	}

	sessionKey, err := c.sessionKey()
	if err != nil {
		return err
	}

	entries, err := c.loadEntries(ctx, sessionKey)
	if err != nil {
		// Corrupted or foreign ciphertext. Wipe and start over.
		if clearErr := c.Clear(ctx); clearErr != nil {
			return clearErr
		}
		entries = make(map[string]string)
	}

	sealed, err := crypto.SealEncoded(sessionKey, key)
	if err != nil {
		return err
	}
	entries[pluginID] = base64.StdEncoding.EncodeToString(sealed)

	if err := c.storeEntries(ctx, entries); err != nil {
		return err
	}

	state := modeState{Mode: mode}
	if mode == Time {
		state.StartTime = c.now().Unix()
	}
	rawState, err := cbor.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode auth mode: %w", err)
	}
	return c.store.Set(ctx, c.sessionID, authModeKey, rawState)
}

// GetAuthKey looks up the derived key for the plugin: runtime map first,
// then the encrypted session map. A TTL-expired map is cleared and reported
// as a miss; an entry read in single-action mode is deleted from the session
// store but stays in the runtime map for the remainder of this request. Any
// decryption failure wipes the whole cache, treated as a tamper or desync
// signal.
func (c *Cache) GetAuthKey(ctx context.Context, pluginID string) (crypto.Key, bool, error) {
	c.mu.Lock()
	if key, ok := c.runtime[pluginID]; ok {
		out := cloneKey(key)
		c.mu.Unlock()
		return out, true, nil
	}
	c.mu.Unlock()

	rawState, err := c.store.Get(ctx, c.sessionID, authModeKey)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return nil, false, err
	}
	state := modeState{Mode: SingleAction}
	if rawState != nil {
		if err := cbor.Unmarshal(rawState, &state); err != nil {
			return nil, false, c.wipe(ctx, "unreadable auth mode state")
		}
	}

	if state.Mode == Time && c.now().Sub(time.Unix(state.StartTime, 0)) > c.ttl {
		if err := c.Clear(ctx); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}

	sessionKey, err := c.sessionKey()
	if err != nil {
		return nil, false, err
	}

	entries, err := c.loadEntries(ctx, sessionKey)
	if err != nil {
		return nil, false, c.wipe(ctx, "unreadable auth key map")
	}

	encoded, ok := entries[pluginID]
	if !ok {
		return nil, false, nil
	}

	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, false, c.wipe(ctx, "undecodable auth key entry")
	}
	plaintext, err := crypto.OpenEncoded(sessionKey, sealed)
	if err != nil {
		return nil, false, c.wipe(ctx, "undecryptable auth key entry")
	}
	key := crypto.Key(plaintext)

	c.mu.Lock()
	c.runtime[pluginID] = cloneKey(key)
	c.mu.Unlock()

	if state.Mode == SingleAction {
		delete(entries, pluginID)
		if len(entries) == 0 {
			if err := c.store.Delete(ctx, c.sessionID, authKeysKey); err != nil {
				return nil, false, err
			}
		} else if err := c.storeEntries(ctx, entries); err != nil {
			return nil, false, err
		}
	}

	return key, true, nil
}

// Clear drops the runtime map and the persisted auth-key state.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	for id, key := range c.runtime {
		key.Wipe()
		delete(c.runtime, id)
	}
	c.mu.Unlock()

	if err := c.store.Delete(ctx, c.sessionID, authKeysKey); err != nil {
		return err
	}
	return c.store.Delete(ctx, c.sessionID, authModeKey)
}

func (c *Cache) wipe(ctx context.Context, reason string) error {
	c.log.Warn("clearing session auth cache", "reason", reason, "session_id", c.sessionID)
	return c.Clear(ctx)
}

// loadEntries reads and decrypts the persisted auth-key map. A missing map
// yields an empty one; a present but undecryptable map yields an error.
func (c *Cache) loadEntries(ctx context.Context, sessionKey crypto.Key) (map[string]string, error) {
	raw, err := c.store.Get(ctx, c.sessionID, authKeysKey)
	if errors.Is(err, model.ErrNotFound) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, err
	}

	plaintext, err := crypto.OpenEncoded(sessionKey, raw)
	if err != nil {
		return nil, err
	}
	entries := make(map[string]string)
	if err := cbor.Unmarshal(plaintext, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode auth key map: %w", err)
	}
	return entries, nil
}

func (c *Cache) storeEntries(ctx context.Context, entries map[string]string) error {
	plaintext, err := cbor.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode auth key map: %w", err)
	}

	sessionKey, err := c.sessionKey()
	if err != nil {
		return err
	}
	sealed, err := crypto.SealEncoded(sessionKey, plaintext)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, c.sessionID, authKeysKey, sealed)
}

func cloneKey(key crypto.Key) crypto.Key {
	out := make(crypto.Key, len(key))
	copy(out, key)
	return out
}
