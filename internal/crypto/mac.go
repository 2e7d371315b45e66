package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
)

// ComputeMAC computes an HMAC-SHA256 over the given parts keyed by the
// system authentication key. Each part is length-prefixed so that shifting
// bytes between adjacent parts changes the MAC.
func ComputeMAC(systemKey []byte, parts ...[]byte) []byte {
	mac := hmac.New(sha256.New, systemKey)
	var lenBuf [8]byte
	for _, p := range parts {
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(p)))
		mac.Write(lenBuf[:])
		mac.Write(p)
	}
	return mac.Sum(nil)
}

// VerifyMAC compares in constant time.
func VerifyMAC(systemKey, expected []byte, parts ...[]byte) bool {
	return hmac.Equal(expected, ComputeMAC(systemKey, parts...))
}
