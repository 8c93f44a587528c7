package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func newTestSession(t *testing.T, id, userID string) *Session {
	t.Helper()
	return New(context.Background(), id, userID, userID, 4)
}

func TestRegisterReportsCameOnline(t *testing.T) {
	reg := NewRegistry()

	first, err := reg.Register(newTestSession(t, "s1", "alice"))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !first {
		t.Fatal("expected first session to report came-online")
	}

	second, err := reg.Register(newTestSession(t, "s2", "alice"))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if second {
		t.Fatal("expected second session not to report came-online")
	}

	if got := len(reg.SessionsFor("alice")); got != 2 {
		t.Fatalf("expected 2 sessions, got %d", got)
	}
}

func TestRegisterIdempotent(t *testing.T) {
	reg := NewRegistry()
	s := newTestSession(t, "s1", "alice")

	if _, err := reg.Register(s); err != nil {
		t.Fatalf("register: %v", err)
	}
	again, err := reg.Register(s)
	if err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if again {
		t.Fatal("re-register must not report came-online")
	}
	if got := len(reg.SessionsFor("alice")); got != 1 {
		t.Fatalf("expected 1 session after duplicate register, got %d", got)
	}
}

func TestRegisterValidation(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.Register(newTestSession(t, "", "alice")); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession, got %v", err)
	}
}

func TestDeregisterReportsWentOffline(t *testing.T) {
	reg := NewRegistry()
	s1 := newTestSession(t, "s1", "alice")
	s2 := newTestSession(t, "s2", "alice")
	_, _ = reg.Register(s1)
	_, _ = reg.Register(s2)

	if _, offline := reg.Deregister("s1"); offline {
		t.Fatal("user still has a session; must not report offline")
	}
	gone, offline := reg.Deregister("s2")
	if !offline {
		t.Fatal("expected last deregister to report went-offline")
	}
	if gone.UserID != "alice" {
		t.Fatalf("unexpected session returned: %+v", gone)
	}
	if got := len(reg.SessionsFor("alice")); got != 0 {
		t.Fatalf("expected empty session set, got %d", got)
	}

	// idempotent
	if _, offline := reg.Deregister("s2"); offline {
		t.Fatal("duplicate deregister must be a no-op")
	}

	select {
	case <-gone.Done():
	case <-time.After(time.Second):
		t.Fatal("deregister must cancel the session")
	}
}

func TestSessionsForIsSnapshot(t *testing.T) {
	reg := NewRegistry()
	_, _ = reg.Register(newTestSession(t, "s1", "alice"))

	snap := reg.SessionsFor("alice")
	reg.Deregister("s1")
	if len(snap) != 1 {
		t.Fatal("snapshot must not observe later mutations")
	}
}

func TestConcurrentRegisterDeregister(t *testing.T) {
	reg := NewRegistry()
	const workers = 16
	const perWorker = 50

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			user := fmt.Sprintf("user-%d", w%4)
			for i := 0; i < perWorker; i++ {
				id := fmt.Sprintf("s-%d-%d", w, i)
				if _, err := reg.Register(newTestSession(t, id, user)); err != nil {
					t.Errorf("register: %v", err)
					return
				}
				reg.Deregister(id)
			}
		}(w)
	}
	wg.Wait()

	if reg.Len() != 0 {
		t.Fatalf("expected empty registry, got %d sessions", reg.Len())
	}
}

func TestPushBackpressureCancelsSession(t *testing.T) {
	s := New(context.Background(), "s1", "alice", "alice", 1)

	if err := s.Push(Event{Name: "first"}); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := s.Push(Event{Name: "second"}); !errors.Is(err, ErrSendBufferFull) {
		t.Fatalf("expected ErrSendBufferFull, got %v", err)
	}
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("backpressure must cancel the session")
	}
	// further pushes are silently absorbed as context errors
	if err := s.Push(Event{Name: "third"}); err == nil {
		t.Fatal("expected error pushing to canceled session")
	}
}
