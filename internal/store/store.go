// Package store defines the persistence contracts consumed by the delivery
// engine and the key manager, together with the records they exchange.
// Implementations live in the memory and postgres subpackages.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrNotSender is returned when a delete is requested by anyone other
	// than the original sender.
	ErrNotSender = errors.New("requester is not the message sender")
)

// Message is an encrypted conversation message. Rows are immutable except for
// hard delete by the original sender.
type Message struct {
	ID             string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Ciphertext     []byte    `json:"ciphertext"`
	IV             []byte    `json:"iv"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ConversationKeyRecord is one participant's wrapped copy of a conversation
// key. Exactly one record exists per (conversation, participant); the key is
// never stored unwrapped.
type ConversationKeyRecord struct {
	ConversationID string    `json:"conversationId"`
	KeyID          string    `json:"keyId"`
	UserID         string    `json:"userId"`
	WrappedKey     []byte    `json:"wrappedKey"`
	IV             []byte    `json:"iv"`
	CreatedAt      time.Time `json:"createdAt"`
}

// KeyPairRecord stores a user's key-pair fingerprint. The public key is a
// one-way fingerprint for display and verification; it plays no part in the
// confidentiality path.
type KeyPairRecord struct {
	UserID     string    `json:"userId"`
	KeyID      string    `json:"keyId"`
	PublicKey  []byte    `json:"publicKey"`
	PrivateKey []byte    `json:"-"`
	CreatedAt  time.Time `json:"createdAt"`
}

// MessageStore persists conversation messages.
type MessageStore interface {
	// Append stores a message and returns it as persisted.
	Append(ctx context.Context, msg Message) (Message, error)
	// Fetch returns up to limit messages for a conversation, oldest first,
	// skipping offset rows.
	Fetch(ctx context.Context, conversationID string, limit, offset int) ([]Message, error)
	// Delete hard-deletes a message. It returns the deleted message, or
	// ErrNotSender when the requester did not send it.
	Delete(ctx context.Context, messageID, requestingUserID string) (Message, error)
}

// KeyStore persists wrapped conversation keys and key-pair fingerprints.
type KeyStore interface {
	SaveConversationKey(ctx context.Context, rec ConversationKeyRecord) error
	ConversationKey(ctx context.Context, conversationID, userID string) (ConversationKeyRecord, error)
	SaveKeyPair(ctx context.Context, rec KeyPairRecord) error
	KeyPair(ctx context.Context, userID string) (KeyPairRecord, error)
}

// Membership answers conversation participation questions. It is consulted on
// every room join and on each send fan-out; results are never cached here.
type Membership interface {
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	Participants(ctx context.Context, conversationID string) ([]string, error)
}
