// Package crypto holds the key primitives of the engine: symmetric AEAD,
// asymmetric key wrapping, MAC, key derivation and the handling rules for
// in-memory secrets. Everything above this package works with raw bytes;
// hex/base64/CBOR encoding happens only at the persistence edge.
package crypto

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	// KeySize is the size of every symmetric key in the engine.
	KeySize = 32
	// SaltSize is the size of KDF salts.
	SaltSize = 16
)

// Key is a symmetric key. Derived keys are never persisted in plaintext;
// callers wipe them as soon as their scope ends.
type Key []byte

// Wipe zeroes the key material in place.
func (k Key) Wipe() {
	for i := range k {
		k[i] = 0
	}
}

// KDFParams are the argon2id parameters used for key derivation.
type KDFParams struct {
	Time   uint32
	MemKiB uint32
	Par    uint8
}

// DefaultKDFParams match the interactive profile recommended for argon2id.
var DefaultKDFParams = KDFParams{Time: 1, MemKiB: 64 * 1024, Par: 4}

// DeriveKey derives a symmetric key from a factor secret and salt. The same
// (secret, salt, params) always yields the same key.
func DeriveKey(secret, salt []byte, p KDFParams) Key {
	return Key(argon2.IDKey(secret, salt, p.Time, p.MemKiB, p.Par, KeySize))
}

// RandomBytes returns n bytes from the system CSPRNG.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return b, nil
}

// RandomSalt returns a fresh KDF salt.
func RandomSalt() ([]byte, error) {
	return RandomBytes(SaltSize)
}

// RandomKey returns a fresh symmetric key.
func RandomKey() (Key, error) {
	b, err := RandomBytes(KeySize)
	return Key(b), err
}
