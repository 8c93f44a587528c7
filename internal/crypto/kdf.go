package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

// SaltSize is the length of the random salt fed to DeriveKey.
const SaltSize = 16

// Argon2id parameters. The 64 MiB memory cost puts a single derivation well
// above the hardness of 600k PBKDF2-SHA256 iterations on commodity hardware.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// DeriveKey stretches a password into a 256-bit key. Deterministic for a
// given (password, salt) pair.
func DeriveKey(password string, salt []byte) ([]byte, error) {
	if password == "" {
		return nil, fmt.Errorf("password required: %w", ErrEmptyPlaintext)
	}
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("salt must be %d bytes (got %d)", SaltSize, len(salt))
	}
	return argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, KeySize), nil
}

// Subkey expands a parent key into an independent subkey bound to the given
// domain label, so keys used for different purposes never coincide.
func Subkey(key []byte, label string) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidKeySize, len(key))
	}
	if label == "" {
		return nil, fmt.Errorf("subkey label required")
	}

	out := make([]byte, KeySize)
	reader := hkdf.New(sha256.New, key, nil, []byte(label))
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, fmt.Errorf("derive subkey: %w", err)
	}
	return out, nil
}
