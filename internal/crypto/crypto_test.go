package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKey_Deterministic(t *testing.T) {
	salt, err := RandomSalt()
	require.NoError(t, err)

	k1 := DeriveKey([]byte("correct horse"), salt, DefaultKDFParams)
	k2 := DeriveKey([]byte("correct horse"), salt, DefaultKDFParams)
	k3 := DeriveKey([]byte("wrong horse"), salt, DefaultKDFParams)

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.Len(t, []byte(k1), KeySize)
}

func TestSealOpen_RoundTrip(t *testing.T) {
	key, err := RandomKey()
	require.NoError(t, err)

	box, err := Seal(key, []byte("payload"))
	require.NoError(t, err)

	plaintext, err := Open(key, box)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), plaintext)
}

func TestOpen_WrongKeyFails(t *testing.T) {
	key, err := RandomKey()
	require.NoError(t, err)
	other, err := RandomKey()
	require.NoError(t, err)

	box, err := Seal(key, []byte("payload"))
	require.NoError(t, err)

	_, err = Open(other, box)
	assert.Error(t, err)
}

func TestOpen_TamperedCiphertextFails(t *testing.T) {
	key, err := RandomKey()
	require.NoError(t, err)

	box, err := Seal(key, []byte("payload"))
	require.NoError(t, err)
	box.Ciphertext[0] ^= 0x01

	_, err = Open(key, box)
	assert.Error(t, err)
}

func TestSealedBox_EncodeDecode(t *testing.T) {
	key, err := RandomKey()
	require.NoError(t, err)

	raw, err := SealEncoded(key, []byte("payload"))
	require.NoError(t, err)

	plaintext, err := OpenEncoded(key, raw)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), plaintext)
}

func TestWrapUnwrapKey_RoundTrip(t *testing.T) {
	pub, priv, err := GenerateKeyPair()
	require.NoError(t, err)

	sealed, err := WrapKey(pub, []byte("data key"))
	require.NoError(t, err)

	payload, err := UnwrapKey(pub, priv, sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("data key"), payload)
}

func TestUnwrapKey_WrongKeyPairFails(t *testing.T) {
	pub, _, err := GenerateKeyPair()
	require.NoError(t, err)
	otherPub, otherPriv, err := GenerateKeyPair()
	require.NoError(t, err)

	sealed, err := WrapKey(pub, []byte("data key"))
	require.NoError(t, err)

	_, err = UnwrapKey(otherPub, otherPriv, sealed)
	assert.Error(t, err)
}

func TestMAC_VerifyAndTamper(t *testing.T) {
	systemKey := []byte("system authentication key")
	mac := ComputeMAC(systemKey, []byte("public"), []byte("private"))

	assert.True(t, VerifyMAC(systemKey, mac, []byte("public"), []byte("private")))
	assert.False(t, VerifyMAC(systemKey, mac, []byte("publicp"), []byte("rivate")))
	assert.False(t, VerifyMAC([]byte("other key"), mac, []byte("public"), []byte("private")))

	mac[0] ^= 0x01
	assert.False(t, VerifyMAC(systemKey, mac, []byte("public"), []byte("private")))
}

func TestSessionKey_SaltBound(t *testing.T) {
	systemKey := []byte("system key")
	salt1, err := RandomSalt()
	require.NoError(t, err)
	salt2, err := RandomSalt()
	require.NoError(t, err)

	k1, err := SessionKey(systemKey, "sess-1", salt1)
	require.NoError(t, err)
	k1again, err := SessionKey(systemKey, "sess-1", salt1)
	require.NoError(t, err)
	k2, err := SessionKey(systemKey, "sess-1", salt2)
	require.NoError(t, err)
	k3, err := SessionKey(systemKey, "sess-2", salt1)
	require.NoError(t, err)

	assert.Equal(t, k1, k1again)
	assert.NotEqual(t, k1, k2)
	assert.NotEqual(t, k1, k3)
}

func TestGenerateCode(t *testing.T) {
	code, err := GenerateCode(RecoveryCodeLength)
	require.NoError(t, err)
	assert.Len(t, code, RecoveryCodeLength)

	for _, r := range code {
		assert.True(t, strings.ContainsRune(codeAlphabet, r), "unexpected character %q", r)
	}

	assert.NotContains(t, codeAlphabet, "I")
	assert.NotContains(t, codeAlphabet, "O")
	assert.NotContains(t, codeAlphabet, "0")
	assert.NotContains(t, codeAlphabet, "1")
}
