// Package rooms routes transport sessions into per-conversation broadcast
// groups. Membership in a room never outlives the owning session: a dropped
// session is removed from every room it joined, and a reconnecting client
// must join again.
package rooms

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/whisperline/whisperline/internal/session"
	"go.uber.org/zap"
)

// ErrNotParticipant rejects a join by a user who is not authorized for the
// conversation.
var ErrNotParticipant = errors.New("user is not a conversation participant")

// MembershipChecker answers whether a user belongs to a conversation. It is
// consulted on every join; results are never cached here.
type MembershipChecker interface {
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
}

// Router is the shared room state consulted by the delivery engine on every
// inbound event.
type Router struct {
	log        *zap.Logger
	membership MembershipChecker

	mu        sync.RWMutex
	rooms     map[string]map[string]*session.Session
	bySession map[string]map[string]struct{}
}

// NewRouter wires a router to its membership collaborator.
func NewRouter(log *zap.Logger, membership MembershipChecker) *Router {
	return &Router{
		log:        log,
		membership: membership,
		rooms:      make(map[string]map[string]*session.Session),
		bySession:  make(map[string]map[string]struct{}),
	}
}

// Join subscribes a session to a conversation's room after re-verifying
// authorization with the membership collaborator. An unauthorized join leaves
// the room untouched.
func (r *Router) Join(ctx context.Context, s *session.Session, conversationID string) error {
	if s == nil || conversationID == "" {
		return fmt.Errorf("session and conversation id required")
	}

	ok, err := r.membership.IsParticipant(ctx, conversationID, s.UserID)
	if err != nil {
		return fmt.Errorf("membership check: %w", err)
	}
	if !ok {
		return ErrNotParticipant
	}

	r.mu.Lock()
	room, exists := r.rooms[conversationID]
	if !exists {
		room = make(map[string]*session.Session)
		r.rooms[conversationID] = room
	}
	room[s.ID] = s
	joined, exists := r.bySession[s.ID]
	if !exists {
		joined = make(map[string]struct{})
		r.bySession[s.ID] = joined
	}
	joined[conversationID] = struct{}{}
	r.mu.Unlock()

	r.log.Debug("session joined room",
		zap.String("session_id", s.ID),
		zap.String("conversation_id", conversationID))
	return nil
}

// Leave unsubscribes a session from a room. Unconditional and idempotent.
func (r *Router) Leave(sessionID, conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(sessionID, conversationID)
}

// MembersOf returns a snapshot of the sessions currently subscribed to a
// conversation's room.
func (r *Router) MembersOf(conversationID string) []*session.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.rooms[conversationID]
	out := make([]*session.Session, 0, len(room))
	for _, s := range room {
		out = append(out, s)
	}
	return out
}

// Contains reports whether a session is subscribed to a room.
func (r *Router) Contains(conversationID, sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.rooms[conversationID][sessionID]
	return ok
}

// DropSession removes a session from every room it joined and returns the
// affected conversation IDs. Called synchronously on disconnect.
func (r *Router) DropSession(sessionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	joined := r.bySession[sessionID]
	out := make([]string, 0, len(joined))
	for conversationID := range joined {
		out = append(out, conversationID)
	}
	for _, conversationID := range out {
		r.removeLocked(sessionID, conversationID)
	}
	return out
}

// RoomCount reports the number of non-empty rooms.
func (r *Router) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

func (r *Router) removeLocked(sessionID, conversationID string) {
	if room, ok := r.rooms[conversationID]; ok {
		delete(room, sessionID)
		if len(room) == 0 {
			delete(r.rooms, conversationID)
		}
	}
	if joined, ok := r.bySession[sessionID]; ok {
		delete(joined, conversationID)
		if len(joined) == 0 {
			delete(r.bySession, sessionID)
		}
	}
}
