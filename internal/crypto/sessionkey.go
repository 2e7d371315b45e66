package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// SessionKey derives the symmetric key protecting one session's auth-key
// cache. The salt is random per derivation and lives only in the app-scoped
// key cache: once the cache entry is evicted the key is gone and the
// encrypted session map becomes unreadable, which is the intended forget
// mechanism.
func SessionKey(systemKey []byte, sessionID string, salt []byte) (Key, error) {
	r := hkdf.New(sha256.New, systemKey, salt, []byte("session-auth-cache:"+sessionID))
	key := make(Key, KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive session key: %w", err)
	}
	return key, nil
}
