// Package credential provides authenticated symmetric encryption for bot
// tokens at rest. Tokens are sealed with AES-256-GCM and persisted as a single
// base64 blob laid out as nonce(12) ‖ tag(16) ‖ ciphertext.
//
// The same primitives serve both sides of the pipeline: the API seals a token
// when a bot is registered and the worker opens it right before a login.
//
// Key format:
//   - "base64:<std-encoding>" decodes to the key bytes
//   - anything else is taken verbatim as UTF-8 bytes
//
// Either way the decoded key must be exactly 32 bytes.
package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const (
	// KeySize is the required decoded key length (AES-256).
	KeySize = 32
	// NonceSize is the GCM nonce length stored at the head of a payload.
	NonceSize = 12
	// TagSize is the GCM authentication tag length stored after the nonce.
	TagSize = 16

	base64Prefix = "base64:"
)

var (
	// ErrMissingKey is returned when no encryption key is configured.
	ErrMissingKey = errors.New("encryption key is required")

	// ErrInvalidKeyLength is returned when a key does not decode to 32 bytes.
	ErrInvalidKeyLength = errors.New("encryption key must decode to 32 bytes")

	// ErrAuthenticationFailure is returned when a payload cannot be opened:
	// tampered bytes, wrong key, truncated or non-base64 input.
	ErrAuthenticationFailure = errors.New("credential authentication failed")
)

// IsConfigurationError reports whether err stems from a missing or malformed key.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrMissingKey) || errors.Is(err, ErrInvalidKeyLength)
}

// ParseKey decodes a configured key string into raw key bytes.
func ParseKey(raw string) ([]byte, error) {
	if raw == "" {
		return nil, ErrMissingKey
	}
	var key []byte
	if strings.HasPrefix(raw, base64Prefix) {
		b, err := base64.StdEncoding.DecodeString(raw[len(base64Prefix):])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKeyLength, err)
		}
		key = b
	} else {
		key = []byte(raw)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidKeyLength, len(key))
	}
	return key, nil
}

// Encrypt seals plaintext under the configured key and returns the encoded payload.
// Every call draws a fresh random nonce, so equal inputs give different payloads.
func Encrypt(plaintext, rawKey string) (string, error) {
	c, err := NewCipher(rawKey)
	if err != nil {
		return "", err
	}
	return c.Encrypt(plaintext)
}

// Decrypt opens a payload produced by Encrypt.
func Decrypt(payload, rawKey string) (string, error) {
	c, err := NewCipher(rawKey)
	if err != nil {
		return "", err
	}
	return c.Decrypt(payload)
}

// Cipher holds a validated key for repeated seal/open operations.
// It is safe for concurrent use.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher validates rawKey and prepares an AES-256-GCM AEAD.
func NewCipher(rawKey string) (*Cipher, error) {
	key, err := ParseKey(rawKey)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("credential: init block cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, fmt.Errorf("credential: init gcm: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext and packs nonce ‖ tag ‖ ciphertext into one base64 blob.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("credential: read nonce: %w", err)
	}

	// Seal appends ciphertext ‖ tag; the stored layout puts the tag first.
	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-TagSize], sealed[len(sealed)-TagSize:]

	out := make([]byte, 0, NonceSize+TagSize+len(ct))
	out = append(out, nonce...)
	out = append(out, tag...)
	out = append(out, ct...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. Any verification problem yields ErrAuthenticationFailure
// and no plaintext.
func (c *Cipher) Decrypt(payload string) (string, error) {
	data, err := base64.StdEncoding.Strict().DecodeString(payload)
	if err != nil {
		return "", ErrAuthenticationFailure
	}
	if len(data) < NonceSize+TagSize {
		return "", ErrAuthenticationFailure
	}
	nonce := data[:NonceSize]
	tag := data[NonceSize : NonceSize+TagSize]
	ct := data[NonceSize+TagSize:]

	sealed := make([]byte, 0, len(ct)+TagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	pt, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrAuthenticationFailure
	}
	return string(pt), nil
}

// GenerateKey returns a fresh random key in "base64:" form.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("credential: read key: %w", err)
	}
	return base64Prefix + base64.StdEncoding.EncodeToString(key), nil
}
