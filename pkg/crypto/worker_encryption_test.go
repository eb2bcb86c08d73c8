package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecrypt(t *testing.T) {
	enc, err := NewEncryptor([]byte("short passphrase"))
	require.NoError(t, err)

	sealed, err := enc.Encrypt([]byte(`{"access_token":"at"}`))
	require.NoError(t, err)
	assert.True(t, IsEncrypted(sealed))
	assert.NotContains(t, sealed, "access_token")

	plain, err := enc.Decrypt(sealed + "\n")
	require.NoError(t, err)
	assert.Equal(t, `{"access_token":"at"}`, string(plain))

	other, err := NewEncryptor([]byte("another passphrase"))
	require.NoError(t, err)
	_, err = other.Decrypt(sealed)
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	_, err = enc.Decrypt("c2hvcnQ=")
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestIsEncrypted(t *testing.T) {
	assert.False(t, IsEncrypted(`{"access_token":"at"}`))
	assert.False(t, IsEncrypted(""))
}

func TestNewEncryptorRejectsEmptyKey(t *testing.T) {
	_, err := NewEncryptor(nil)
	assert.Error(t, err)
}
