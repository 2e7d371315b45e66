package crypto

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/chacha20poly1305"
)

// SealedBox is an AEAD envelope: XChaCha20-Poly1305 ciphertext with its
// random nonce. Encode/DecodeSealedBox translate it to bytes at the
// persistence edge.
type SealedBox struct {
	Nonce      []byte `cbor:"n"`
	Ciphertext []byte `cbor:"c"`
}

// Seal encrypts plaintext under key with a fresh random nonce.
func Seal(key Key, plaintext []byte) (SealedBox, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return SealedBox{}, fmt.Errorf("failed to create cipher: %w", err)
	}

	nonce, err := RandomBytes(aead.NonceSize())
	if err != nil {
		return SealedBox{}, err
	}

	return SealedBox{
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, plaintext, nil),
	}, nil
}

// Open decrypts a sealed box. A wrong key or tampered ciphertext fails
// authentication and returns an error.
func Open(key Key, box SealedBox) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	plaintext, err := aead.Open(nil, box.Nonce, box.Ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open sealed box: %w", err)
	}
	return plaintext, nil
}

// Encode serializes the envelope for storage.
func (b SealedBox) Encode() ([]byte, error) {
	raw, err := cbor.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("failed to encode sealed box: %w", err)
	}
	return raw, nil
}

// DecodeSealedBox parses a stored envelope.
func DecodeSealedBox(raw []byte) (SealedBox, error) {
	var b SealedBox
	if err := cbor.Unmarshal(raw, &b); err != nil {
		return SealedBox{}, fmt.Errorf("failed to decode sealed box: %w", err)
	}
	return b, nil
}

// SealEncoded is Seal followed by Encode.
func SealEncoded(key Key, plaintext []byte) ([]byte, error) {
	box, err := Seal(key, plaintext)
	if err != nil {
		return nil, err
	}
	return box.Encode()
}

// OpenEncoded is DecodeSealedBox followed by Open.
func OpenEncoded(key Key, raw []byte) ([]byte, error) {
	box, err := DecodeSealedBox(raw)
	if err != nil {
		return nil, err
	}
	return Open(key, box)
}
