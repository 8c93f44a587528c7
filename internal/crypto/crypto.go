// Package crypto provides the authenticated encryption, key derivation, and
// random generation primitives used by the key manager and the message codec.
package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// KeySize is the length of every symmetric key handled by this package.
	KeySize = chacha20poly1305.KeySize
	// NonceSize is the length of the per-call random nonce carried next to
	// each ciphertext (the "iv" field on the wire).
	NonceSize = chacha20poly1305.NonceSizeX
)

var (
	ErrInvalidKeySize = errors.New("key must be 32 bytes")
	ErrInvalidNonce   = errors.New("nonce has wrong size")
	ErrEmptyPlaintext = errors.New("plaintext is empty")
	ErrEmptyMessage   = errors.New("ciphertext is empty")
	// ErrCipher covers authentication failures: wrong key or corrupted data.
	ErrCipher = errors.New("decryption failed")
)

// RandomBytes returns n cryptographically random bytes.
func RandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("read random bytes: %w", err)
	}
	return buf, nil
}

// RandomKey returns a fresh random symmetric key.
func RandomKey() ([]byte, error) {
	return RandomBytes(KeySize)
}

// Seal encrypts plaintext with XChaCha20-Poly1305 under a fresh random nonce.
// The nonce is returned separately and must accompany the ciphertext.
func Seal(key, plaintext []byte) (ciphertext, nonce []byte, err error) {
	if len(key) != KeySize {
		return nil, nil, fmt.Errorf("%w (got %d)", ErrInvalidKeySize, len(key))
	}
	if len(plaintext) == 0 {
		return nil, nil, ErrEmptyPlaintext
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, nil, fmt.Errorf("init cipher: %w", err)
	}

	nonce, err = RandomBytes(NonceSize)
	if err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}

	return aead.Seal(nil, nonce, plaintext, nil), nonce, nil
}

// Open decrypts a ciphertext produced by Seal. A wrong key or tampered input
// yields ErrCipher, never a plausible wrong plaintext.
func Open(key, nonce, ciphertext []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidKeySize, len(key))
	}
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w (got %d, want %d)", ErrInvalidNonce, len(nonce), NonceSize)
	}
	if len(ciphertext) == 0 {
		return nil, ErrEmptyMessage
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrCipher
	}
	return plaintext, nil
}

// ZeroBytes overwrites a secret buffer in-place.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
