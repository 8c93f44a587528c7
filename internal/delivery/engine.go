// Package delivery implements the real-time delivery engine: it validates
// inbound events, persists messages through the external store, and fans
// encrypted payloads out to sender sessions, room members, and the remaining
// online sessions of each recipient.
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/whisperline/whisperline/internal/crypto"
	"github.com/whisperline/whisperline/internal/rooms"
	"github.com/whisperline/whisperline/internal/session"
	"github.com/whisperline/whisperline/internal/store"
	"go.uber.org/zap"
)

// Engine drives every inbound event through its state machine:
// Received → Validated → Persisted → Broadcast → Acknowledged, or Rejected
// with an error event to the sending session only. The engine performs no
// retries and no per-recipient acknowledgment tracking; a session offline at
// broadcast time catches up through the historical fetch path.
type Engine struct {
	log        *zap.Logger
	sessions   *session.Registry
	rooms      *rooms.Router
	messages   store.MessageStore
	membership store.Membership
	metrics    *Metrics

	nowFn func() time.Time
	newID func() string
}

// NewEngine wires the engine to its collaborators. All dependencies are
// injected at construction; the engine holds no ambient global state.
func NewEngine(log *zap.Logger, sessions *session.Registry, router *rooms.Router, messages store.MessageStore, membership store.Membership, metrics *Metrics) *Engine {
	return &Engine{
		log:        log,
		sessions:   sessions,
		rooms:      router,
		messages:   messages,
		membership: membership,
		metrics:    metrics,
		nowFn:      time.Now,
		newID:      func() string { return uuid.NewString() },
	}
}

// Connect registers a freshly authenticated session and announces presence
// when this is the user's first live session.
func (e *Engine) Connect(s *session.Session) error {
	cameOnline, err := e.sessions.Register(s)
	if err != nil {
		return fmt.Errorf("register session: %w", err)
	}
	e.metrics.incSession()

	if cameOnline {
		e.broadcastStatus(s.UserID, StatusOnline)
	}
	e.log.Info("session connected",
		zap.String("session_id", s.ID),
		zap.String("user_id", s.UserID))
	return nil
}

// Disconnect synchronously removes a session from the registry and from every
// room it joined. There is no graceful-shutdown handshake.
func (e *Engine) Disconnect(s *session.Session) {
	gone, wentOffline := e.sessions.Deregister(s.ID)
	if gone == nil {
		return
	}
	left := e.rooms.DropSession(s.ID)
	e.metrics.decSession()
	e.metrics.setRooms(e.rooms.RoomCount())

	if wentOffline {
		e.broadcastStatus(s.UserID, StatusOffline)
	}
	e.log.Info("session disconnected",
		zap.String("session_id", s.ID),
		zap.String("user_id", s.UserID),
		zap.Int("rooms_left", len(left)))
}

// HandleEvent routes one inbound event. Rejections are delivered to the
// sending session as error events; a returned error means the session should
// be terminated.
func (e *Engine) HandleEvent(ctx context.Context, s *session.Session, env Envelope) error {
	start := time.Now()
	err := e.route(ctx, s, env)
	e.metrics.observe(env.Event, start, err)
	if err == nil {
		return nil
	}

	var ee *eventError
	if errors.As(err, &ee) {
		e.log.Warn("event rejected",
			zap.String("event", env.Event),
			zap.String("code", ee.code),
			zap.String("session_id", s.ID),
			zap.String("user_id", s.UserID),
			zap.String("reason", ee.msg))
		_ = s.Push(session.Event{Name: EventError, Data: ErrorPayload{Code: ee.code, Reason: ee.msg}})
		if ee.fatal {
			return err
		}
		return nil
	}
	return err
}

func (e *Engine) route(ctx context.Context, s *session.Session, env Envelope) error {
	switch env.Event {
	case EventJoinConversation:
		var req JoinConversation
		if err := decode(env.Data, &req); err != nil {
			return err
		}
		return e.handleJoin(ctx, s, req)
	case EventLeaveConversation:
		var req LeaveConversation
		if err := decode(env.Data, &req); err != nil {
			return err
		}
		e.rooms.Leave(s.ID, req.ConversationID)
		e.metrics.setRooms(e.rooms.RoomCount())
		return nil
	case EventSendMessage:
		var req SendMessage
		if err := decode(env.Data, &req); err != nil {
			return err
		}
		return e.handleSend(ctx, s, req)
	case EventTypingStart:
		var req Typing
		if err := decode(env.Data, &req); err != nil {
			return err
		}
		return e.handleTyping(ctx, s, req.ConversationID, true)
	case EventTypingStop:
		var req Typing
		if err := decode(env.Data, &req); err != nil {
			return err
		}
		return e.handleTyping(ctx, s, req.ConversationID, false)
	case EventDeleteMessage:
		var req DeleteMessage
		if err := decode(env.Data, &req); err != nil {
			return err
		}
		return e.handleDelete(ctx, s, req)
	default:
		return &eventError{code: CodeInvalidEvent, msg: fmt.Sprintf("unsupported event %q", env.Event)}
	}
}

func (e *Engine) handleJoin(ctx context.Context, s *session.Session, req JoinConversation) error {
	if req.ConversationID == "" {
		return validationError("conversation id required")
	}
	if err := e.rooms.Join(ctx, s, req.ConversationID); err != nil {
		if errors.Is(err, rooms.ErrNotParticipant) {
			return unauthorizedError("not a conversation participant")
		}
		return storeError("membership check unavailable")
	}
	e.metrics.setRooms(e.rooms.RoomCount())

	// confirmation goes to the joining session only
	e.push(s, EventConversationJoined, ConversationJoined{ConversationID: req.ConversationID})
	return nil
}

// handleSend runs the send state machine.
func (e *Engine) handleSend(ctx context.Context, s *session.Session, req SendMessage) error {
	// Received → Validated
	if req.ConversationID == "" {
		return validationError("conversation id required")
	}
	if len(req.Ciphertext) == 0 {
		return validationError("ciphertext required")
	}
	if len(req.IV) != crypto.NonceSize {
		return validationError("iv missing or malformed")
	}
	if req.RecipientID != "" && req.RecipientID == s.UserID {
		return validationError("sender and recipient must differ")
	}

	ok, err := e.membership.IsParticipant(ctx, req.ConversationID, s.UserID)
	if err != nil {
		return storeError("membership check unavailable")
	}
	if !ok {
		return unauthorizedError("not a conversation participant")
	}
	participants, err := e.membership.Participants(ctx, req.ConversationID)
	if err != nil {
		return storeError("membership check unavailable")
	}
	if req.RecipientID != "" && !contains(participants, req.RecipientID) {
		return validationError("recipient is not a conversation participant")
	}

	// Validated → Persisted: the append is awaited before any confirmation
	// or fan-out is emitted.
	msg, err := e.messages.Append(ctx, store.Message{
		ID:             e.newID(),
		ConversationID: req.ConversationID,
		SenderID:       s.UserID,
		Ciphertext:     req.Ciphertext,
		IV:             req.IV,
		CreatedAt:      e.nowFn().UTC(),
	})
	if err != nil {
		e.log.Error("message append failed",
			zap.String("conversation_id", req.ConversationID),
			zap.Error(err))
		return storeError("message could not be persisted")
	}
	e.metrics.recordPersisted()

	// Persisted → Broadcast: the target set is snapshotted now; a session
	// that disconnects mid-broadcast is a silent no-op.
	payload := MessagePayload{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Ciphertext:     msg.Ciphertext,
		IV:             msg.IV,
		CreatedAt:      msg.CreatedAt,
	}

	for _, target := range e.sessions.SessionsFor(s.UserID) {
		e.push(target, EventMessageSent, payload)
	}

	delivered := make(map[string]struct{})
	for _, member := range e.rooms.MembersOf(req.ConversationID) {
		if member.UserID == s.UserID {
			continue
		}
		e.push(member, EventNewMessage, payload)
		delivered[member.ID] = struct{}{}
	}

	// recipients need not have joined the room: cover their remaining
	// online sessions too
	for _, userID := range participants {
		if userID == s.UserID {
			continue
		}
		for _, target := range e.sessions.SessionsFor(userID) {
			if _, seen := delivered[target.ID]; seen {
				continue
			}
			e.push(target, EventNewMessage, payload)
			delivered[target.ID] = struct{}{}
		}
	}

	// Broadcast → Acknowledged: best-effort, no per-recipient ack awaited.
	e.log.Debug("message delivered",
		zap.String("message_id", msg.ID),
		zap.String("conversation_id", msg.ConversationID),
		zap.Int("recipient_sessions", len(delivered)))
	return nil
}

func (e *Engine) handleTyping(ctx context.Context, s *session.Session, conversationID string, isTyping bool) error {
	if conversationID == "" {
		return validationError("conversation id required")
	}
	ok, err := e.membership.IsParticipant(ctx, conversationID, s.UserID)
	if err != nil {
		return storeError("membership check unavailable")
	}
	if !ok {
		return unauthorizedError("not a conversation participant")
	}

	payload := UserTyping{ConversationID: conversationID, UserID: s.UserID, IsTyping: isTyping}
	for _, member := range e.rooms.MembersOf(conversationID) {
		if member.UserID == s.UserID {
			continue
		}
		e.push(member, EventUserTyping, payload)
	}
	return nil
}

func (e *Engine) handleDelete(ctx context.Context, s *session.Session, req DeleteMessage) error {
	if req.MessageID == "" {
		return validationError("message id required")
	}

	msg, err := e.messages.Delete(ctx, req.MessageID, s.UserID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return validationError("message not found")
	case errors.Is(err, store.ErrNotSender):
		return unauthorizedError("only the original sender may delete a message")
	case err != nil:
		return storeError("message could not be deleted")
	}

	payload := MessageDeleted{MessageID: msg.ID, ConversationID: msg.ConversationID}
	notified := make(map[string]struct{})
	for _, member := range e.rooms.MembersOf(msg.ConversationID) {
		e.push(member, EventMessageDeleted, payload)
		notified[member.ID] = struct{}{}
	}
	for _, target := range e.sessions.SessionsFor(s.UserID) {
		if _, seen := notified[target.ID]; seen {
			continue
		}
		e.push(target, EventMessageDeleted, payload)
	}
	return nil
}

// broadcastStatus announces a presence transition to every session belonging
// to other users.
func (e *Engine) broadcastStatus(userID, status string) {
	payload := UserStatus{UserID: userID, Status: status}
	for _, target := range e.sessions.All() {
		if target.UserID == userID {
			continue
		}
		e.push(target, EventUserStatusChanged, payload)
	}
}

// push emits one event to one session. Emission to a dead session is a
// silent no-op; backpressure cancellation is handled inside Session.Push.
func (e *Engine) push(s *session.Session, name string, data any) {
	if err := s.Push(session.Event{Name: name, Data: data}); err != nil {
		if errors.Is(err, session.ErrSendBufferFull) {
			e.log.Warn("session dropped on backpressure",
				zap.String("session_id", s.ID),
				zap.String("user_id", s.UserID))
		}
		return
	}
	e.metrics.recordFanout(name)
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return validationError("event payload required")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return validationError("malformed event payload")
	}
	return nil
}

func contains(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
