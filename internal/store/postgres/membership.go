package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// Membership answers participant queries from the conversation_participants table.
type Membership struct {
	db *sql.DB
}

// Grant adds a user to a conversation. Adding an existing participant is a no-op.
func (m *Membership) Grant(ctx context.Context, conversationID, userID string) error {
	query := `
		INSERT INTO conversation_participants (conversation_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (conversation_id, user_id) DO NOTHING;
	`
	if _, err := m.db.ExecContext(ctx, query, conversationID, userID); err != nil {
		return fmt.Errorf("grant membership: %w", err)
	}
	return nil
}

// Revoke removes a user from a conversation.
func (m *Membership) Revoke(ctx context.Context, conversationID, userID string) error {
	query := `DELETE FROM conversation_participants WHERE conversation_id = $1 AND user_id = $2;`
	if _, err := m.db.ExecContext(ctx, query, conversationID, userID); err != nil {
		return fmt.Errorf("revoke membership: %w", err)
	}
	return nil
}

// IsParticipant reports whether the user currently belongs to the conversation.
func (m *Membership) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM conversation_participants
			WHERE conversation_id = $1 AND user_id = $2
		);
	`
	var ok bool
	if err := m.db.QueryRowContext(ctx, query, conversationID, userID).Scan(&ok); err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return ok, nil
}

// Participants lists the user IDs belonging to a conversation.
func (m *Membership) Participants(ctx context.Context, conversationID string) ([]string, error) {
	query := `
		SELECT user_id FROM conversation_participants
		WHERE conversation_id = $1
		ORDER BY user_id;
	`
	rows, err := m.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("select participants: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		users = append(users, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participants: %w", err)
	}
	return users, nil
}
