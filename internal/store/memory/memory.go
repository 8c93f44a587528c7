// Package memory provides map-backed store implementations used in tests and
// single-node deployments without a database.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/whisperline/whisperline/internal/store"
)

// MessageStore keeps messages in memory, ordered by append time.
type MessageStore struct {
	mu       sync.RWMutex
	messages []store.Message
	byID     map[string]int
	nowFn    func() time.Time
}

// NewMessageStore builds an empty in-memory message store.
func NewMessageStore() *MessageStore {
	return &MessageStore{
		byID:  make(map[string]int),
		nowFn: time.Now,
	}
}

// Append stores a message, stamping CreatedAt when unset.
func (s *MessageStore) Append(ctx context.Context, msg store.Message) (store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.nowFn().UTC()
	}
	msg.Ciphertext = cloneBytes(msg.Ciphertext)
	msg.IV = cloneBytes(msg.IV)
	s.byID[msg.ID] = len(s.messages)
	s.messages = append(s.messages, msg)
	return msg, ctx.Err()
}

// Fetch returns messages for a conversation, oldest first.
func (s *MessageStore) Fetch(ctx context.Context, conversationID string, limit, offset int) ([]store.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []store.Message
	for _, msg := range s.messages {
		if msg.ConversationID == conversationID {
			matched = append(matched, msg)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	if offset >= len(matched) {
		return nil, ctx.Err()
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}

	out := make([]store.Message, len(matched))
	copy(out, matched)
	return out, ctx.Err()
}

// Delete removes a message if the requester is its sender.
func (s *MessageStore) Delete(ctx context.Context, messageID, requestingUserID string) (store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.byID[messageID]
	if !ok {
		return store.Message{}, store.ErrNotFound
	}
	msg := s.messages[idx]
	if msg.SenderID != requestingUserID {
		return store.Message{}, store.ErrNotSender
	}

	s.messages = append(s.messages[:idx], s.messages[idx+1:]...)
	delete(s.byID, messageID)
	for id, i := range s.byID {
		if i > idx {
			s.byID[id] = i - 1
		}
	}
	return msg, ctx.Err()
}

// KeyStore keeps wrapped conversation keys and key-pair records in memory.
type KeyStore struct {
	mu       sync.RWMutex
	convKeys map[convKeyID]store.ConversationKeyRecord
	keyPairs map[string]store.KeyPairRecord
	nowFn    func() time.Time
}

type convKeyID struct {
	conversationID string
	userID         string
}

// NewKeyStore builds an empty in-memory key store.
func NewKeyStore() *KeyStore {
	return &KeyStore{
		convKeys: make(map[convKeyID]store.ConversationKeyRecord),
		keyPairs: make(map[string]store.KeyPairRecord),
		nowFn:    time.Now,
	}
}

// SaveConversationKey upserts the single record for (conversation, user).
func (s *KeyStore) SaveConversationKey(ctx context.Context, rec store.ConversationKeyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.nowFn().UTC()
	}
	rec.WrappedKey = cloneBytes(rec.WrappedKey)
	rec.IV = cloneBytes(rec.IV)
	s.convKeys[convKeyID{rec.ConversationID, rec.UserID}] = rec
	return ctx.Err()
}

// ConversationKey fetches one participant's wrapped key record.
func (s *KeyStore) ConversationKey(ctx context.Context, conversationID, userID string) (store.ConversationKeyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.convKeys[convKeyID{conversationID, userID}]
	if !ok {
		return store.ConversationKeyRecord{}, store.ErrNotFound
	}
	rec.WrappedKey = cloneBytes(rec.WrappedKey)
	rec.IV = cloneBytes(rec.IV)
	return rec, ctx.Err()
}

// SaveKeyPair upserts a user's key-pair record.
func (s *KeyStore) SaveKeyPair(ctx context.Context, rec store.KeyPairRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.nowFn().UTC()
	}
	rec.PublicKey = cloneBytes(rec.PublicKey)
	rec.PrivateKey = cloneBytes(rec.PrivateKey)
	s.keyPairs[rec.UserID] = rec
	return ctx.Err()
}

// KeyPair fetches a user's key-pair record.
func (s *KeyStore) KeyPair(ctx context.Context, userID string) (store.KeyPairRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.keyPairs[userID]
	if !ok {
		return store.KeyPairRecord{}, store.ErrNotFound
	}
	rec.PublicKey = cloneBytes(rec.PublicKey)
	rec.PrivateKey = cloneBytes(rec.PrivateKey)
	return rec, ctx.Err()
}

// Membership is a map-backed membership collaborator. Grants are made
// explicitly; there is no implicit membership.
type Membership struct {
	mu      sync.RWMutex
	members map[string]map[string]struct{}
}

// NewMembership builds an empty membership set.
func NewMembership() *Membership {
	return &Membership{members: make(map[string]map[string]struct{})}
}

// Grant adds users to a conversation.
func (m *Membership) Grant(conversationID string, userIDs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.members[conversationID]
	if !ok {
		set = make(map[string]struct{})
		m.members[conversationID] = set
	}
	for _, id := range userIDs {
		set[id] = struct{}{}
	}
}

// Revoke removes a user from a conversation.
func (m *Membership) Revoke(conversationID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.members[conversationID], userID)
}

// IsParticipant reports whether the user belongs to the conversation.
func (m *Membership) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.members[conversationID][userID]
	return ok, ctx.Err()
}

// Participants lists the conversation's members in stable order.
func (m *Membership) Participants(ctx context.Context, conversationID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := m.members[conversationID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, ctx.Err()
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return append([]byte(nil), b...)
}
