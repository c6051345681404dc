package crypto

import (
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func TestDecodeMasterKey_Base64(t *testing.T) {
	// Arrange
	encoded := base64.StdEncoding.EncodeToString(testKey())

	// Act
	key, err := DecodeMasterKey(encoded)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, testKey(), key)
}

func TestDecodeMasterKey_Hex(t *testing.T) {
	// Arrange
	encoded := hex.EncodeToString(testKey())

	// Act
	key, err := DecodeMasterKey(encoded)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, testKey(), key)
}

func TestDecodeMasterKey_WrongLength(t *testing.T) {
	// Act
	_, err := DecodeMasterKey(base64.StdEncoding.EncodeToString([]byte("short")))

	// Assert
	assert.Error(t, err)
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	// Arrange
	key := testKey()
	plaintext := []byte(`{"token":"abc"}`)

	// Act
	ciphertext, err := Encrypt(key, plaintext)
	require.NoError(t, err)
	decrypted, err := Decrypt(key, ciphertext)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
	assert.NotEqual(t, plaintext, ciphertext)
}

func TestDecrypt_WrongKey(t *testing.T) {
	// Arrange
	ciphertext, err := Encrypt(testKey(), []byte("secret"))
	require.NoError(t, err)

	otherKey := testKey()
	otherKey[0] ^= 0xff

	// Act
	_, err = Decrypt(otherKey, ciphertext)

	// Assert
	assert.Error(t, err)
}

func TestDecrypt_TruncatedCiphertext(t *testing.T) {
	// Act
	_, err := Decrypt(testKey(), []byte{0x01, 0x02})

	// Assert
	assert.Error(t, err)
}
