package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"github.com/whisperline/whisperline/internal/auth"
	"github.com/whisperline/whisperline/internal/config"
	"github.com/whisperline/whisperline/internal/crypto"
	"github.com/whisperline/whisperline/internal/delivery"
	"github.com/whisperline/whisperline/internal/keys"
	"github.com/whisperline/whisperline/internal/rooms"
	"github.com/whisperline/whisperline/internal/session"
	"github.com/whisperline/whisperline/internal/store"
	"github.com/whisperline/whisperline/internal/store/memory"
	"go.uber.org/zap/zaptest"
)

var testSecret = []byte("server-test-secret")

type testEnv struct {
	ts         *httptest.Server
	membership *memory.Membership
	messages   *memory.MessageStore
	keys       *memory.KeyStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := zaptest.NewLogger(t)

	cfg, err := config.Load("")
	require.NoError(t, err)

	verifier, err := auth.NewJWTVerifier(testSecret)
	require.NoError(t, err)

	messages := memory.NewMessageStore()
	keyStore := memory.NewKeyStore()
	membership := memory.NewMembership()

	registry := session.NewRegistry()
	router := rooms.NewRouter(log, membership)
	engine := delivery.NewEngine(log, registry, router, messages, membership, nil)

	srv := New(cfg, log, Deps{
		Verifier:   verifier,
		Engine:     engine,
		Messages:   messages,
		Keys:       keyStore,
		Membership: membership,
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, membership: membership, messages: messages, keys: keyStore}
}

func token(t *testing.T, userID, username string) string {
	t.Helper()
	tok, err := auth.GenerateToken(auth.Identity{UserID: userID, Username: username}, testSecret, time.Minute)
	require.NoError(t, err)
	return tok
}

func (env *testEnv) dial(t *testing.T, tok string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws?token=" + tok
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func sendEvent(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(wireFrame{Event: event, Data: json.RawMessage(raw)}))
}

// waitFor reads frames until the named event arrives, skipping unrelated
// traffic such as presence updates.
func waitFor(t *testing.T, conn *websocket.Conn, event string) json.RawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var frame inboundFrame
		require.NoError(t, conn.ReadJSON(&frame), "waiting for %s", event)
		if frame.Event == event {
			return frame.Data
		}
		if frame.Event == delivery.EventError {
			t.Fatalf("unexpected error frame while waiting for %s: %s", event, frame.Data)
		}
	}
}

func TestWebsocketSendDelivery(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.membership.Grant("conv-1", "alice", "bob")

	alice := env.dial(t, token(t, "alice", "alice"))
	bob := env.dial(t, token(t, "bob", "bob"))

	sendEvent(t, alice, delivery.EventJoinConversation, delivery.JoinConversation{ConversationID: "conv-1"})
	waitFor(t, alice, delivery.EventConversationJoined)
	sendEvent(t, bob, delivery.EventJoinConversation, delivery.JoinConversation{ConversationID: "conv-1"})
	waitFor(t, bob, delivery.EventConversationJoined)

	ciphertext := []byte("opaque-ciphertext")
	iv := make([]byte, crypto.NonceSize)
	sendEvent(t, alice, delivery.EventSendMessage, delivery.SendMessage{
		ConversationID: "conv-1",
		RecipientID:    "bob",
		Ciphertext:     ciphertext,
		IV:             iv,
	})

	var sent delivery.MessagePayload
	require.NoError(t, json.Unmarshal(waitFor(t, alice, delivery.EventMessageSent), &sent))
	require.NotEmpty(t, sent.MessageID)
	require.Equal(t, "alice", sent.SenderID)

	var received delivery.MessagePayload
	require.NoError(t, json.Unmarshal(waitFor(t, bob, delivery.EventNewMessage), &received))
	require.Equal(t, sent.MessageID, received.MessageID)
	require.Equal(t, ciphertext, received.Ciphertext)
	require.Equal(t, iv, received.IV)

	rows, err := env.messages.Fetch(ctx, "conv-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestWebsocketUnauthorizedJoin(t *testing.T) {
	env := newTestEnv(t)

	mallory := env.dial(t, token(t, "mallory", "mallory"))
	sendEvent(t, mallory, delivery.EventJoinConversation, delivery.JoinConversation{ConversationID: "conv-1"})

	require.NoError(t, mallory.SetReadDeadline(time.Now().Add(3*time.Second)))
	var frame inboundFrame
	require.NoError(t, mallory.ReadJSON(&frame))
	require.Equal(t, delivery.EventError, frame.Event)

	var payload delivery.ErrorPayload
	require.NoError(t, json.Unmarshal(frame.Data, &payload))
	require.Equal(t, delivery.CodeUnauthorized, payload.Code)
}

func TestWebsocketRejectsBadToken(t *testing.T) {
	env := newTestEnv(t)
	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws?token=not-a-token"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.Nil(t, conn)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHistoryEndpoint(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.membership.Grant("conv-1", "alice")

	for i := range 3 {
		_, err := env.messages.Append(ctx, store.Message{
			ID:             fmt.Sprintf("msg-%d", i),
			ConversationID: "conv-1",
			SenderID:       "alice",
			Ciphertext:     []byte("ct"),
			IV:             make([]byte, crypto.NonceSize),
			CreatedAt:      time.Now().UTC(),
		})
		require.NoError(t, err)
	}

	body := env.get(t, "/api/conversations/conv-1/messages?limit=2", token(t, "alice", "alice"), http.StatusOK)
	var page struct {
		Messages []store.Message `json:"messages"`
		Limit    int             `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(body, &page))
	require.Len(t, page.Messages, 2)
	require.Equal(t, 2, page.Limit)

	// non-participants never see history
	env.get(t, "/api/conversations/conv-1/messages", token(t, "mallory", "mallory"), http.StatusForbidden)
}

func TestKeyPairEndpoints(t *testing.T) {
	env := newTestEnv(t)
	tok := token(t, "alice", "alice")

	env.get(t, "/api/keypair", tok, http.StatusNotFound)

	body := env.do(t, http.MethodPut, "/api/keypair", tok, http.StatusCreated)
	var created store.KeyPairRecord
	require.NoError(t, json.Unmarshal(body, &created))
	require.NotEmpty(t, created.KeyID)
	require.NotEmpty(t, created.PublicKey)
	require.Empty(t, created.PrivateKey, "private key must never be serialized")

	body = env.get(t, "/api/keypair", tok, http.StatusOK)
	var fetched store.KeyPairRecord
	require.NoError(t, json.Unmarshal(body, &fetched))
	require.Equal(t, created.KeyID, fetched.KeyID)
}

func TestConversationKeyEndpoint(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	log := zaptest.NewLogger(t)

	aliceMaster, err := keys.DeriveMasterKey("alice-password", nil)
	require.NoError(t, err)
	bobMaster, err := keys.DeriveMasterKey("bob-password", nil)
	require.NoError(t, err)

	prov := keys.NewProvisioner(log, env.keys)
	keyID, err := prov.Establish(ctx, "conv-1", map[string]keys.MasterKey{
		"alice": aliceMaster,
		"bob":   bobMaster,
	})
	require.NoError(t, err)

	body := env.get(t, "/api/conversations/conv-1/key", token(t, "alice", "alice"), http.StatusOK)
	var rec store.ConversationKeyRecord
	require.NoError(t, json.Unmarshal(body, &rec))
	require.Equal(t, keyID, rec.KeyID)
	require.Equal(t, "alice", rec.UserID)
	require.NotEmpty(t, rec.WrappedKey)

	env.get(t, "/api/conversations/conv-2/key", token(t, "alice", "alice"), http.StatusNotFound)
}

func (env *testEnv) get(t *testing.T, path, tok string, wantStatus int) []byte {
	return env.do(t, http.MethodGet, path, tok, wantStatus)
}

func (env *testEnv) do(t *testing.T, method, path, tok string, wantStatus int) []byte {
	t.Helper()
	req, err := http.NewRequest(method, env.ts.URL+path, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := env.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, wantStatus, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return body
}
