package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/whisperline/whisperline/internal/store"
)

// KeyStore persists wrapped conversation keys and user keypairs.
type KeyStore struct {
	db *sql.DB
}

// SaveConversationKey upserts the wrapped key held by one participant.
func (s *KeyStore) SaveConversationKey(ctx context.Context, rec store.ConversationKeyRecord) error {
	query := `
		INSERT INTO conversation_keys (conversation_id, user_id, key_id, wrapped_key, iv, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (conversation_id, user_id)
		DO UPDATE SET key_id = EXCLUDED.key_id, wrapped_key = EXCLUDED.wrapped_key,
		              iv = EXCLUDED.iv, created_at = EXCLUDED.created_at;
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.ConversationID, rec.UserID, rec.KeyID, rec.WrappedKey, rec.IV, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert conversation key: %w", err)
	}
	return nil
}

// ConversationKey returns the wrapped key stored for one participant.
func (s *KeyStore) ConversationKey(ctx context.Context, conversationID, userID string) (store.ConversationKeyRecord, error) {
	query := `
		SELECT conversation_id, user_id, key_id, wrapped_key, iv, created_at
		FROM conversation_keys
		WHERE conversation_id = $1 AND user_id = $2;
	`
	var rec store.ConversationKeyRecord
	err := s.db.QueryRowContext(ctx, query, conversationID, userID).
		Scan(&rec.ConversationID, &rec.UserID, &rec.KeyID, &rec.WrappedKey, &rec.IV, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ConversationKeyRecord{}, store.ErrNotFound
	}
	if err != nil {
		return store.ConversationKeyRecord{}, fmt.Errorf("select conversation key: %w", err)
	}
	return rec, nil
}

// SaveKeyPair upserts a user's keypair.
func (s *KeyStore) SaveKeyPair(ctx context.Context, rec store.KeyPairRecord) error {
	query := `
		INSERT INTO keypairs (user_id, key_id, public_key, private_key, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id)
		DO UPDATE SET key_id = EXCLUDED.key_id, public_key = EXCLUDED.public_key,
		              private_key = EXCLUDED.private_key, created_at = EXCLUDED.created_at;
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.UserID, rec.KeyID, rec.PublicKey, rec.PrivateKey, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert keypair: %w", err)
	}
	return nil
}

// KeyPair returns the keypair stored for a user.
func (s *KeyStore) KeyPair(ctx context.Context, userID string) (store.KeyPairRecord, error) {
	query := `
		SELECT user_id, key_id, public_key, private_key, created_at
		FROM keypairs
		WHERE user_id = $1;
	`
	var rec store.KeyPairRecord
	err := s.db.QueryRowContext(ctx, query, userID).
		Scan(&rec.UserID, &rec.KeyID, &rec.PublicKey, &rec.PrivateKey, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.KeyPairRecord{}, store.ErrNotFound
	}
	if err != nil {
		return store.KeyPairRecord{}, fmt.Errorf("select keypair: %w", err)
	}
	return rec, nil
}
