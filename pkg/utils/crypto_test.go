package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cryptoKey = []byte("0123456789abcdef0123456789abcdef")

func TestEncryptDecryptRoundTrip(t *testing.T) {
	ciphertext, err := Encrypt([]byte("token-value"), cryptoKey)
	require.NoError(t, err)
	assert.NotEqual(t, "token-value", ciphertext)

	plaintext, err := Decrypt(ciphertext, cryptoKey)
	require.NoError(t, err)
	assert.Equal(t, "token-value", plaintext)
}

func TestDecryptWrongKey(t *testing.T) {
	ciphertext, err := Encrypt([]byte("token-value"), cryptoKey)
	require.NoError(t, err)

	otherKey := []byte("ffffffffffffffffffffffffffffffff")
	_, err = Decrypt(ciphertext, otherKey)
	assert.Error(t, err)
}

func TestDecryptTamperedCiphertext(t *testing.T) {
	_, err := Decrypt("bm90LXJlYWwtY2lwaGVydGV4dA==", cryptoKey)
	assert.Error(t, err)
}

func TestDecryptTooShort(t *testing.T) {
	_, err := Decrypt("YQ==", cryptoKey)
	assert.Error(t, err)
}

func TestEncryptUniqueNonce(t *testing.T) {
	first, err := Encrypt([]byte("same"), cryptoKey)
	require.NoError(t, err)
	second, err := Encrypt([]byte("same"), cryptoKey)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}
