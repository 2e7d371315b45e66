package sessioncache

import (
	"sync"

	"github.com/evgray/keyfort-server/internal/crypto"
)

// KeyCache is the app-scoped store of per-session encryption keys. Keys are
// derived with a random salt on first use, so an evicted entry cannot be
// re-derived: the session's encrypted auth-key map becomes unreadable, which
// is the intended forget mechanism.
type KeyCache struct {
	mu   sync.Mutex
	keys map[string]crypto.Key
}

func NewKeyCache() *KeyCache {
	return &KeyCache{keys: make(map[string]crypto.Key)}
}

func (c *KeyCache) Get(sessionID string) (crypto.Key, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key, ok := c.keys[sessionID]
	return key, ok
}

func (c *KeyCache) Put(sessionID string, key crypto.Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.keys[sessionID] = key
}

// Evict wipes and forgets the session key.
func (c *KeyCache) Evict(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if key, ok := c.keys[sessionID]; ok {
		key.Wipe()
		delete(c.keys, sessionID)
	}
}
