package crypto

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// codeAlphabet is Crockford-like: ambiguous characters (I, O, 0, 1) are
// omitted so codes survive being read aloud or written down.
const codeAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

const (
	// RecoveryCodeLength is the length of the human-held recovery code.
	RecoveryCodeLength = 25
	// RecoveryTokenLength is the length of the mailed recovery token.
	RecoveryTokenLength = 6
)

// GenerateCode returns a human-readable high-entropy code of length n.
func GenerateCode(n int) (string, error) {
	max := big.NewInt(int64(len(codeAlphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate code: %w", err)
		}
		out[i] = codeAlphabet[idx.Int64()]
	}
	return string(out), nil
}
