package keys

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/whisperline/whisperline/internal/crypto"
	"github.com/whisperline/whisperline/internal/store"
	"go.uber.org/zap"
)

// Provisioner establishes and recovers conversation keys through a KeyStore.
// Every participant receives their own wrapped copy of the same key; the key
// itself never reaches the store unwrapped.
type Provisioner struct {
	log   *zap.Logger
	store store.KeyStore
}

// NewProvisioner wires a provisioner to its key store.
func NewProvisioner(log *zap.Logger, ks store.KeyStore) *Provisioner {
	return &Provisioner{log: log, store: ks}
}

// Establish generates a conversation key and persists one wrapped record per
// participant. The caller supplies each participant's master key; the
// plaintext key is zeroed before returning.
func (p *Provisioner) Establish(ctx context.Context, conversationID string, participants map[string]MasterKey) (string, error) {
	if conversationID == "" {
		return "", fmt.Errorf("conversation id required")
	}
	if len(participants) == 0 {
		return "", fmt.Errorf("at least one participant required")
	}

	key, err := GenerateConversationKey()
	if err != nil {
		return "", err
	}
	defer crypto.ZeroBytes(key)
	keyID := conversationKeyID(key)

	for userID, master := range participants {
		wrapped, err := WrapConversationKey(key, master)
		if err != nil {
			return "", fmt.Errorf("wrap for %s: %w", userID, err)
		}
		rec := store.ConversationKeyRecord{
			ConversationID: conversationID,
			KeyID:          keyID,
			UserID:         userID,
			WrappedKey:     wrapped.Ciphertext,
			IV:             wrapped.IV,
		}
		if err := p.store.SaveConversationKey(ctx, rec); err != nil {
			return "", fmt.Errorf("persist key record for %s: %w", userID, err)
		}
	}

	p.log.Info("conversation key established",
		zap.String("conversation_id", conversationID),
		zap.String("key_id", keyID),
		zap.Int("participants", len(participants)))
	return keyID, nil
}

// ConversationKey loads and unwraps the caller's copy of a conversation key.
func (p *Provisioner) ConversationKey(ctx context.Context, conversationID, userID string, master MasterKey) ([]byte, string, error) {
	rec, err := p.store.ConversationKey(ctx, conversationID, userID)
	if err != nil {
		return nil, "", fmt.Errorf("load key record: %w", err)
	}
	key, err := UnwrapConversationKey(WrappedKey{Ciphertext: rec.WrappedKey, IV: rec.IV}, master)
	if err != nil {
		return nil, "", err
	}
	return key, rec.KeyID, nil
}

// conversationKeyID names a key without revealing it: the identifier is a
// truncated hash of the fingerprint tag and key bytes.
func conversationKeyID(key []byte) string {
	h := sha256.New()
	h.Write([]byte(fingerprintTag))
	h.Write(key)
	sum := h.Sum(nil)
	return base64.RawURLEncoding.EncodeToString(sum[:16])
}
