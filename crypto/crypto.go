// Package crypto seals secrets stored at rest, such as the Matrix access token.
//
// Values are encrypted with AES-256-GCM and bound to an owner string passed as
// additional data, so a sealed token copied onto another user's row fails to
// open. Sealed values carry a version prefix and the sealing key's id so rows
// written under an older key can be detected after rotation.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

const sealPrefix = "v1"

var (
	// ErrKeyMismatch is returned when a value was sealed with a different key.
	ErrKeyMismatch = errors.New("sealed with a different key")
	// ErrMalformed is returned for values that are not in sealed form.
	ErrMalformed = errors.New("malformed sealed value")
)

// Sealer encrypts short strings bound to an owner.
type Sealer interface {
	Seal(plaintext, owner string) (string, error)
	Open(sealed, owner string) (string, error)
	KeyID() string
}

// AESSealer implements Sealer with AES-256-GCM.
type AESSealer struct {
	aead  cipher.AEAD
	keyID string
}

// NewAESSealer builds a sealer from a base64-encoded 32-byte key
// (openssl rand -base64 32).
func NewAESSealer(base64Key string) (*AESSealer, error) {
	if base64Key == "" {
		return nil, errors.New("encryption key is empty")
	}
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: base64 decode failed: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid encryption key: must be 32 bytes (256 bits), got %d bytes", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	sum := sha256.Sum256(key)
	return &AESSealer{aead: aead, keyID: hex.EncodeToString(sum[:4])}, nil
}

// KeyID identifies the key without revealing it.
func (s *AESSealer) KeyID() string { return s.keyID }

// Seal returns "v1.<keyid>.<base64(nonce||ciphertext||tag)>". An empty
// plaintext seals to the empty string.
func (s *AESSealer) Seal(plaintext, owner string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	out := s.aead.Seal(nonce, nonce, []byte(plaintext), []byte(owner))
	return strings.Join([]string{sealPrefix, s.keyID, base64.RawURLEncoding.EncodeToString(out)}, "."), nil
}

// Open reverses Seal for the same owner.
func (s *AESSealer) Open(sealed, owner string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	parts := strings.SplitN(sealed, ".", 3)
	if len(parts) != 3 || parts[0] != sealPrefix {
		return "", ErrMalformed
	}
	if parts[1] != s.keyID {
		return "", fmt.Errorf("%w: %s", ErrKeyMismatch, parts[1])
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	n := s.aead.NonceSize()
	if len(raw) < n+s.aead.Overhead() {
		return "", fmt.Errorf("%w: %d bytes", ErrMalformed, len(raw))
	}
	plain, err := s.aead.Open(nil, raw[:n], raw[n:], []byte(owner))
	if err != nil {
		// Don't expose internal error details
		return "", errors.New("decryption failed: authentication or integrity check failed")
	}
	return string(plain), nil
}

// IsSealed reports whether v looks like a Seal output.
func IsSealed(v string) bool {
	return strings.HasPrefix(v, sealPrefix+".") && strings.Count(v, ".") >= 2
}
