// Package keys implements the key-management scheme: per-user master keys
// derived from passwords, per-conversation symmetric keys, and per-participant
// key wrapping. Conversation confidentiality rests entirely on this scheme.
//
// The "key pair" produced here is a fingerprint, not asymmetric cryptography:
// the public half is a one-way hash of the private half under a fixed domain
// tag. It exists for display and out-of-band verification only and carries no
// key-exchange security.
package keys

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/whisperline/whisperline/internal/crypto"
)

const (
	// wrapLabel domain-separates the key-wrapping subkey from any other use
	// of the master key.
	wrapLabel = "whisperline/key-wrap/v1"
	// fingerprintTag domain-separates key-pair fingerprints from plain
	// hashes of the same bytes.
	fingerprintTag = "whisperline/fingerprint/v1"
)

var (
	ErrEmptyPassword = errors.New("password is required")
	ErrInvalidSalt   = errors.New("salt has wrong size")
)

// MasterKey is a password-derived secret that wraps and unwraps conversation
// keys. It lives in memory for the duration of an authenticated session and
// is never persisted in cleartext.
type MasterKey struct {
	Key  []byte
	Salt []byte
}

// Zero overwrites the key material in-place.
func (m *MasterKey) Zero() {
	crypto.ZeroBytes(m.Key)
}

// DeriveMasterKey reconstitutes a user's master key from their password. A
// nil salt requests a fresh random one (first login); a returning user passes
// the stored salt and obtains the identical key.
func DeriveMasterKey(password string, salt []byte) (MasterKey, error) {
	if password == "" {
		return MasterKey{}, ErrEmptyPassword
	}
	if salt == nil {
		fresh, err := crypto.RandomBytes(crypto.SaltSize)
		if err != nil {
			return MasterKey{}, fmt.Errorf("generate salt: %w", err)
		}
		salt = fresh
	} else if len(salt) != crypto.SaltSize {
		return MasterKey{}, fmt.Errorf("%w (got %d, want %d)", ErrInvalidSalt, len(salt), crypto.SaltSize)
	}

	key, err := crypto.DeriveKey(password, salt)
	if err != nil {
		return MasterKey{}, fmt.Errorf("derive master key: %w", err)
	}
	return MasterKey{Key: key, Salt: salt}, nil
}

// KeyPair is a fingerprint pair: Public = H(tag || Private).
type KeyPair struct {
	Public  []byte
	Private []byte
	KeyID   string
}

// GenerateKeyPair produces a random private key and its fingerprint.
func GenerateKeyPair() (KeyPair, error) {
	private, err := crypto.RandomKey()
	if err != nil {
		return KeyPair{}, fmt.Errorf("generate private key: %w", err)
	}
	public := Fingerprint(private)
	return KeyPair{
		Public:  public,
		Private: private,
		KeyID:   KeyIdentifier(public),
	}, nil
}

// Fingerprint computes the one-way public fingerprint of a private key.
func Fingerprint(private []byte) []byte {
	h := sha256.New()
	h.Write([]byte(fingerprintTag))
	h.Write(private)
	return h.Sum(nil)
}

// KeyIdentifier returns a short stable identifier for a public fingerprint.
func KeyIdentifier(public []byte) string {
	sum := sha256.Sum256(public)
	return base64.RawURLEncoding.EncodeToString(sum[:16])
}

// GenerateConversationKey returns a fresh random symmetric key, independent
// of the conversation identifier and of every other conversation's key.
func GenerateConversationKey() ([]byte, error) {
	key, err := crypto.RandomKey()
	if err != nil {
		return nil, fmt.Errorf("generate conversation key: %w", err)
	}
	return key, nil
}

// WrappedKey is a conversation key encrypted under one participant's
// master-key wrapping subkey.
type WrappedKey struct {
	Ciphertext []byte
	IV         []byte
}

// WrapConversationKey encrypts a conversation key for one participant.
func WrapConversationKey(conversationKey []byte, master MasterKey) (WrappedKey, error) {
	if len(conversationKey) != crypto.KeySize {
		return WrappedKey{}, fmt.Errorf("conversation key: %w", crypto.ErrInvalidKeySize)
	}
	wrapKey, err := crypto.Subkey(master.Key, wrapLabel)
	if err != nil {
		return WrappedKey{}, fmt.Errorf("derive wrapping key: %w", err)
	}
	defer crypto.ZeroBytes(wrapKey)

	ciphertext, nonce, err := crypto.Seal(wrapKey, conversationKey)
	if err != nil {
		return WrappedKey{}, fmt.Errorf("wrap conversation key: %w", err)
	}
	return WrappedKey{Ciphertext: ciphertext, IV: nonce}, nil
}

// UnwrapConversationKey recovers a conversation key. A wrong master key or
// corrupted record yields crypto.ErrCipher.
func UnwrapConversationKey(wrapped WrappedKey, master MasterKey) ([]byte, error) {
	wrapKey, err := crypto.Subkey(master.Key, wrapLabel)
	if err != nil {
		return nil, fmt.Errorf("derive wrapping key: %w", err)
	}
	defer crypto.ZeroBytes(wrapKey)

	key, err := crypto.Open(wrapKey, wrapped.IV, wrapped.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("unwrap conversation key: %w", err)
	}
	return key, nil
}
