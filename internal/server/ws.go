package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/whisperline/whisperline/internal/auth"
	"github.com/whisperline/whisperline/internal/delivery"
	"github.com/whisperline/whisperline/internal/session"
	"go.uber.org/zap"
)

// wireFrame is the outbound JSON envelope written to the socket.
type wireFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// handleWebsocket authenticates the caller, upgrades the connection, and runs
// the session's read loop until the peer disconnects or the engine terminates
// the session. Cleanup is synchronous: by the time this handler returns the
// session is out of the registry and every room.
func (s *GatewayServer) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	identity, err := s.authenticate(r)
	if err != nil {
		httpError(w, http.StatusUnauthorized, delivery.CodeUnauthorized, "invalid or missing token")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	id, err := session.NewID()
	if err != nil {
		s.log.Error("session id generation failed", zap.Error(err))
		return
	}
	sess := session.New(r.Context(), id, identity.UserID, identity.Username, s.cfg.Transport.SendBuffer)

	if err := s.deps.Engine.Connect(sess); err != nil {
		s.log.Error("session registration failed", zap.Error(err))
		sess.Close()
		return
	}
	defer func() {
		s.deps.Engine.Disconnect(sess)
		sess.Close()
	}()

	go s.writeLoop(sess, conn)
	s.readLoop(r.Context(), sess, conn)
}

// readLoop decodes inbound envelopes and feeds them to the engine. A fatal
// engine error or any read error ends the session.
func (s *GatewayServer) readLoop(ctx context.Context, sess *session.Session, conn *websocket.Conn) {
	conn.SetReadLimit(s.cfg.Transport.ReadLimit)
	readWait := 2 * s.cfg.Transport.PingInterval
	if readWait > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(readWait))
		})
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("websocket read ended",
					zap.String("session_id", sess.ID),
					zap.Error(err))
			}
			return
		}

		var env delivery.Envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
			_ = sess.Push(session.Event{
				Name: delivery.EventError,
				Data: delivery.ErrorPayload{Code: delivery.CodeInvalidEvent, Reason: "malformed event envelope"},
			})
			continue
		}

		if err := s.deps.Engine.HandleEvent(ctx, sess, env); err != nil {
			return
		}
		select {
		case <-sess.Done():
			return
		default:
		}
	}
}

// writeLoop drains the session's outbound queue onto the socket and keeps the
// connection alive with pings. Closing the connection here unblocks the
// read loop.
func (s *GatewayServer) writeLoop(sess *session.Session, conn *websocket.Conn) {
	pingInterval := s.cfg.Transport.PingInterval
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-sess.Events():
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.Transport.WriteTimeout))
			if err := conn.WriteJSON(wireFrame{Event: ev.Name, Data: ev.Data}); err != nil {
				sess.Close()
				conn.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.Transport.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				sess.Close()
				conn.Close()
				return
			}
		case <-sess.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
			return
		}
	}
}

// authenticate resolves the caller from a Bearer header or, for browser
// websocket dials that cannot set headers, a token query parameter.
func (s *GatewayServer) authenticate(r *http.Request) (auth.Identity, error) {
	token := r.URL.Query().Get("token")
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		token = strings.TrimPrefix(h, "Bearer ")
	}
	if token == "" {
		return auth.Identity{}, auth.ErrInvalidToken
	}
	return s.deps.Verifier.Verify(token)
}
