package delivery

import (
	"encoding/json"
	"time"
)

// Inbound event names.
const (
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventSendMessage       = "send_message"
	EventTypingStart       = "typing_start"
	EventTypingStop        = "typing_stop"
	EventDeleteMessage     = "delete_message"
)

// Outbound event names.
const (
	EventConversationJoined = "conversation_joined"
	EventNewMessage         = "new_message"
	EventMessageSent        = "message_sent"
	EventMessageDeleted     = "message_deleted"
	EventUserTyping         = "user_typing"
	EventUserStatusChanged  = "user_status_changed"
	EventError              = "error"
)

// Envelope frames every wire event.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinConversation asks to subscribe the session to a conversation's room.
type JoinConversation struct {
	ConversationID string `json:"conversationId"`
}

// LeaveConversation unsubscribes the session from a room.
type LeaveConversation struct {
	ConversationID string `json:"conversationId"`
}

// SendMessage carries an encrypted message body. The server never sees the
// plaintext; ciphertext and IV pass through opaque.
type SendMessage struct {
	ConversationID string `json:"conversationId"`
	RecipientID    string `json:"recipientId,omitempty"`
	Ciphertext     []byte `json:"ciphertext"`
	IV             []byte `json:"iv"`
}

// Typing marks a typing-state transition. The sending client owns the
// inactivity timeout (3s recommended) and must emit typing_stop on blur and
// before disconnect; the server only relays.
type Typing struct {
	ConversationID string `json:"conversationId"`
}

// DeleteMessage requests a hard delete of the caller's own message.
type DeleteMessage struct {
	MessageID string `json:"messageId"`
}

// ConversationJoined confirms a join to the joining session only.
type ConversationJoined struct {
	ConversationID string `json:"conversationId"`
}

// MessagePayload is the persisted message echoed to recipients (new_message)
// and to the sender's own sessions (message_sent).
type MessagePayload struct {
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Ciphertext     []byte    `json:"ciphertext"`
	IV             []byte    `json:"iv"`
	CreatedAt      time.Time `json:"createdAt"`
}

// MessageDeleted notifies room members of a hard delete.
type MessageDeleted struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
}

// UserTyping relays a typing-state transition to other room members.
type UserTyping struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

// UserStatus announces presence transitions.
type UserStatus struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

// Presence status values.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// ErrorPayload is emitted to the offending session only.
type ErrorPayload struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}
