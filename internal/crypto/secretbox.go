package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"io"
	"strings"

	"github.com/pkg/errors"

	y2g_errors "github.com/mailfwd/y2g/errors"
)

const nonceSize = 12

// DecodeMasterKey accepts a base64 (standard or url-safe) or hex encoded key
// and requires it to decode to exactly 32 bytes.
func DecodeMasterKey(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)

	candidates := [][]byte{}
	if b, err := base64.StdEncoding.DecodeString(encoded); err == nil {
		candidates = append(candidates, b)
	}
	if b, err := base64.URLEncoding.DecodeString(encoded); err == nil {
		candidates = append(candidates, b)
	}
	if b, err := hex.DecodeString(encoded); err == nil {
		candidates = append(candidates, b)
	}

	for _, key := range candidates {
		if len(key) == 32 {
			return key, nil
		}
	}
	return nil, y2g_errors.ErrMasterKeyInvalid
}

// Encrypt seals plaintext with AES-256-GCM. The random nonce is prefixed to
// the returned ciphertext.
func Encrypt(key, plaintext []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errors.Wrap(err, "failed to generate nonce")
	}

	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a nonce-prefixed AES-256-GCM ciphertext.
func Decrypt(key, ciphertext []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < nonceSize {
		return nil, errors.New("ciphertext too short")
	}

	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decrypt secret")
	}
	return plaintext, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != 32 {
		return nil, y2g_errors.ErrMasterKeyInvalid
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
