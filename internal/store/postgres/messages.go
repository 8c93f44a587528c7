package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/whisperline/whisperline/internal/store"
)

// MessageStore persists messages in the messages table.
type MessageStore struct {
	db *sql.DB
}

// Append inserts a message row.
func (s *MessageStore) Append(ctx context.Context, msg store.Message) (store.Message, error) {
	query := `
		INSERT INTO messages (id, conversation_id, sender_id, ciphertext, iv, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at;
	`
	row := s.db.QueryRowContext(ctx, query,
		msg.ID, msg.ConversationID, msg.SenderID, msg.Ciphertext, msg.IV, msg.CreatedAt)
	if err := row.Scan(&msg.CreatedAt); err != nil {
		return store.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

// Fetch returns messages for a conversation, oldest first.
func (s *MessageStore) Fetch(ctx context.Context, conversationID string, limit, offset int) ([]store.Message, error) {
	query := `
		SELECT id, conversation_id, sender_id, ciphertext, iv, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at, id
		LIMIT $2 OFFSET $3;
	`
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, query, conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("select messages: %w", err)
	}
	defer rows.Close()

	var out []store.Message
	for rows.Next() {
		var msg store.Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Ciphertext, &msg.IV, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

// Delete removes a message if the requester is its sender.
func (s *MessageStore) Delete(ctx context.Context, messageID, requestingUserID string) (store.Message, error) {
	query := `
		DELETE FROM messages
		WHERE id = $1 AND sender_id = $2
		RETURNING id, conversation_id, sender_id, ciphertext, iv, created_at;
	`
	var msg store.Message
	err := s.db.QueryRowContext(ctx, query, messageID, requestingUserID).
		Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Ciphertext, &msg.IV, &msg.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		// distinguish a missing row from a foreign sender
		var exists bool
		if probeErr := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM messages WHERE id = $1)`, messageID).Scan(&exists); probeErr != nil {
			return store.Message{}, fmt.Errorf("probe message: %w", probeErr)
		}
		if exists {
			return store.Message{}, store.ErrNotSender
		}
		return store.Message{}, store.ErrNotFound
	}
	if err != nil {
		return store.Message{}, fmt.Errorf("delete message: %w", err)
	}
	return msg, nil
}
