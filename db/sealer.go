// ABOUTME: Symmetric sealing of OAuth secrets before they are written to SQLite
// ABOUTME: Uses NaCl secretbox with a random nonce prepended to each ciphertext
package db

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const sealedPrefix = "sb1:"

// Sealer encrypts secrets at rest. A nil Sealer stores values as-is.
type Sealer struct {
	key [32]byte
}

// NewSealer accepts a 64-char hex key or any passphrase, which is hashed to 32 bytes.
// An empty secret returns a nil Sealer.
func NewSealer(secret string) *Sealer {
	if secret == "" {
		return nil
	}
	s := &Sealer{}
	if raw, err := hex.DecodeString(secret); err == nil && len(raw) == len(s.key) {
		copy(s.key[:], raw)
		return s
	}
	s.key = sha256.Sum256([]byte(secret))
	return s
}

// Seal encrypts plaintext. Empty values stay empty so "cleared" is visible in the table.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if s == nil || plaintext == "" {
		return plaintext, nil
	}
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &s.key)
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. Values written before sealing was enabled are returned unchanged.
func (s *Sealer) Open(stored string) (string, error) {
	if !strings.HasPrefix(stored, sealedPrefix) {
		return stored, nil
	}
	if s == nil {
		return "", errors.New("sealed value found but no sealing key is configured")
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("failed to decode sealed value: %w", err)
	}
	if len(raw) < 24 {
		return "", errors.New("sealed value is truncated")
	}
	var nonce [24]byte
	copy(nonce[:], raw[:24])
	plain, ok := secretbox.Open(nil, raw[24:], &nonce, &s.key)
	if !ok {
		return "", errors.New("failed to open sealed value: wrong key or corrupted data")
	}
	return string(plain), nil
}
