// Package session tracks transport sessions and their per-user registry.
// A user may hold many sessions at once (devices, tabs); each session owns a
// buffered outbound queue drained by its transport writer.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// DefaultSendBuffer bounds the outbound queue per session.
const DefaultSendBuffer = 32

// ErrSendBufferFull reports a session whose transport cannot keep up. The
// session is canceled when this happens; emission to it afterwards is a no-op.
var ErrSendBufferFull = errors.New("session send buffer full")

// Event is one outbound wire event addressed to a session.
type Event struct {
	Name string
	Data any
}

// Session is a single connected transport stream for one user.
type Session struct {
	ID          string
	UserID      string
	Username    string
	ConnectedAt time.Time

	sendCh chan Event
	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a session bound to the given context. Cancelling the parent
// context tears the session down.
func New(parent context.Context, id, userID, username string, buffer int) *Session {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		ID:          id,
		UserID:      userID,
		Username:    username,
		ConnectedAt: time.Now(),
		sendCh:      make(chan Event, buffer),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// NewID generates a random session identifier.
func NewID() (string, error) {
	var raw [12]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return hex.EncodeToString(raw[:]), nil
}

// Push queues an event for delivery. Pushing to a closed session returns its
// context error; a full buffer cancels the session and returns
// ErrSendBufferFull rather than blocking the caller.
func (s *Session) Push(ev Event) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
	}
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	case s.sendCh <- ev:
		return nil
	default:
		s.cancel()
		return ErrSendBufferFull
	}
}

// Events exposes the outbound queue to the transport writer.
func (s *Session) Events() <-chan Event {
	return s.sendCh
}

// Done is closed when the session has been torn down.
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Close tears the session down. Idempotent.
func (s *Session) Close() {
	s.cancel()
}
