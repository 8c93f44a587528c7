// Package codec encrypts and decrypts message bodies with a conversation's
// symmetric key. It never touches key management: callers obtain the key from
// the key manager and hand it in per call.
package codec

import (
	"errors"
	"fmt"

	"github.com/whisperline/whisperline/internal/crypto"
)

// ErrKeyUnavailable reports that no conversation key was supplied. It is
// deliberately distinct from crypto.ErrCipher so the presentation layer can
// show a recoverable "key pending" state instead of a terminal decrypt error.
var ErrKeyUnavailable = errors.New("conversation key not available")

// Encrypted is a message body ciphertext with its one-time IV.
type Encrypted struct {
	Ciphertext []byte `json:"ciphertext"`
	IV         []byte `json:"iv"`
}

// Encrypt seals a plaintext body under the conversation key. A fresh random
// IV is drawn on every call; IVs are never reused, even within a conversation.
func Encrypt(plaintext, conversationKey []byte) (Encrypted, error) {
	if len(conversationKey) == 0 {
		return Encrypted{}, ErrKeyUnavailable
	}
	ciphertext, nonce, err := crypto.Seal(conversationKey, plaintext)
	if err != nil {
		return Encrypted{}, fmt.Errorf("encrypt message: %w", err)
	}
	return Encrypted{Ciphertext: ciphertext, IV: nonce}, nil
}

// Decrypt opens a message body. Wrong keys and corrupted payloads surface
// crypto.ErrCipher; a missing key surfaces ErrKeyUnavailable.
func Decrypt(enc Encrypted, conversationKey []byte) ([]byte, error) {
	if len(conversationKey) == 0 {
		return nil, ErrKeyUnavailable
	}
	plaintext, err := crypto.Open(conversationKey, enc.IV, enc.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decrypt message: %w", err)
	}
	return plaintext, nil
}
