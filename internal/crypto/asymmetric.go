package crypto

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/nacl/box"
)

// AsymmetricKeySize is the curve25519 key size used by nacl box.
const AsymmetricKeySize = 32

// GenerateKeyPair creates a fresh curve25519 key pair.
func GenerateKeyPair() (publicKey, privateKey []byte, err error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate key pair: %w", err)
	}
	return pub[:], priv[:], nil
}

// WrapKey seals payload to a recipient public key. Only the holder of the
// matching private key can unwrap it.
func WrapKey(recipientPublicKey, payload []byte) ([]byte, error) {
	pub, err := toKeyArray(recipientPublicKey)
	if err != nil {
		return nil, err
	}

	sealed, err := box.SealAnonymous(nil, payload, pub, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap key: %w", err)
	}
	return sealed, nil
}

// UnwrapKey opens a payload sealed with WrapKey.
func UnwrapKey(publicKey, privateKey, sealed []byte) ([]byte, error) {
	pub, err := toKeyArray(publicKey)
	if err != nil {
		return nil, err
	}
	priv, err := toKeyArray(privateKey)
	if err != nil {
		return nil, err
	}

	payload, ok := box.OpenAnonymous(nil, sealed, pub, priv)
	if !ok {
		return nil, fmt.Errorf("failed to unwrap key")
	}
	return payload, nil
}

func toKeyArray(b []byte) (*[AsymmetricKeySize]byte, error) {
	if len(b) != AsymmetricKeySize {
		return nil, fmt.Errorf("invalid key length %d, want %d", len(b), AsymmetricKeySize)
	}
	var arr [AsymmetricKeySize]byte
	copy(arr[:], b)
	return &arr, nil
}
