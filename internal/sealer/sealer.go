// Package sealer encrypts values before they reach durable credential storage.
package sealer

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

var ErrMalformed = errors.New("sealed value malformed")

const hkdfInfo = "go-auth-client credential store v1"

// Sealer performs authenticated encryption with XChaCha20-Poly1305.
// Keys are derived from a device secret with HKDF-SHA256.
type Sealer struct {
	key []byte
}

// New derives the encryption key from secret and salt.
func New(secret, salt []byte) (*Sealer, error) {
	if len(secret) == 0 {
		return nil, errors.New("sealer: empty secret")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("sealer: derive key: %w", err)
	}
	return &Sealer{key: key}, nil
}

// Seal encrypts plaintext. additional binds the ciphertext to a context such as the storage key.
func (s *Sealer) Seal(plaintext, additional []byte) (string, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", fmt.Errorf("sealer: %w", err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("sealer: nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, plaintext, additional)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal with the same additional data.
func (s *Sealer) Open(value string, additional []byte) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, ErrMalformed
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, fmt.Errorf("sealer: %w", err)
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrMalformed
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, additional)
	if err != nil {
		return nil, fmt.Errorf("sealer: open: %w", err)
	}
	return plaintext, nil
}
