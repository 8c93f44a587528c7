package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/whisperline/whisperline/internal/auth"
	"github.com/whisperline/whisperline/internal/delivery"
	"github.com/whisperline/whisperline/internal/keys"
	"github.com/whisperline/whisperline/internal/store"
	"go.uber.org/zap"
)

type identityHandler func(w http.ResponseWriter, r *http.Request, identity auth.Identity)

// withIdentity rejects requests without a valid bearer token before handing
// the resolved identity to the wrapped handler.
func (s *GatewayServer) withIdentity(next identityHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, err := s.authenticate(r)
		if err != nil {
			httpError(w, http.StatusUnauthorized, delivery.CodeUnauthorized, "invalid or missing token")
			return
		}
		next(w, r, identity)
	}
}

// handleHistory serves the replay path: messages a session missed while
// offline, oldest first, paged by limit and offset.
func (s *GatewayServer) handleHistory(w http.ResponseWriter, r *http.Request, identity auth.Identity) {
	conversationID := r.PathValue("id")

	ok, err := s.deps.Membership.IsParticipant(r.Context(), conversationID, identity.UserID)
	if err != nil {
		s.log.Error("membership check failed", zap.Error(err))
		httpError(w, http.StatusInternalServerError, delivery.CodeStore, "membership check unavailable")
		return
	}
	if !ok {
		httpError(w, http.StatusForbidden, delivery.CodeUnauthorized, "not a conversation participant")
		return
	}

	limit := s.cfg.History.DefaultPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			httpError(w, http.StatusBadRequest, delivery.CodeValidation, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	if limit > s.cfg.History.MaxPageSize {
		limit = s.cfg.History.MaxPageSize
	}
	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			httpError(w, http.StatusBadRequest, delivery.CodeValidation, "offset must be a non-negative integer")
			return
		}
		offset = parsed
	}

	messages, err := s.deps.Messages.Fetch(r.Context(), conversationID, limit, offset)
	if err != nil {
		s.log.Error("history fetch failed", zap.Error(err))
		httpError(w, http.StatusInternalServerError, delivery.CodeStore, "history unavailable")
		return
	}
	if messages == nil {
		messages = []store.Message{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"conversationId": conversationID,
		"messages":       messages,
		"limit":          limit,
		"offset":         offset,
	})
}

// handleConversationKey returns the caller's own wrapped copy of the
// conversation key. Other participants' copies are never served.
func (s *GatewayServer) handleConversationKey(w http.ResponseWriter, r *http.Request, identity auth.Identity) {
	conversationID := r.PathValue("id")

	rec, err := s.deps.Keys.ConversationKey(r.Context(), conversationID, identity.UserID)
	if errors.Is(err, store.ErrNotFound) {
		httpError(w, http.StatusNotFound, delivery.CodeValidation, "no key established for this conversation")
		return
	}
	if err != nil {
		s.log.Error("conversation key lookup failed", zap.Error(err))
		httpError(w, http.StatusInternalServerError, delivery.CodeStore, "key store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleGetKeyPair returns the caller's key-pair fingerprint record. The
// private half never leaves the store.
func (s *GatewayServer) handleGetKeyPair(w http.ResponseWriter, r *http.Request, identity auth.Identity) {
	rec, err := s.deps.Keys.KeyPair(r.Context(), identity.UserID)
	if errors.Is(err, store.ErrNotFound) {
		httpError(w, http.StatusNotFound, delivery.CodeValidation, "no keypair provisioned")
		return
	}
	if err != nil {
		s.log.Error("keypair lookup failed", zap.Error(err))
		httpError(w, http.StatusInternalServerError, delivery.CodeStore, "key store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handlePutKeyPair provisions a fresh key-pair fingerprint for the caller,
// replacing any previous one.
func (s *GatewayServer) handlePutKeyPair(w http.ResponseWriter, r *http.Request, identity auth.Identity) {
	pair, err := keys.GenerateKeyPair()
	if err != nil {
		s.log.Error("keypair generation failed", zap.Error(err))
		httpError(w, http.StatusInternalServerError, delivery.CodeStore, "keypair generation failed")
		return
	}
	rec := store.KeyPairRecord{
		UserID:     identity.UserID,
		KeyID:      pair.KeyID,
		PublicKey:  pair.Public,
		PrivateKey: pair.Private,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.deps.Keys.SaveKeyPair(r.Context(), rec); err != nil {
		s.log.Error("keypair save failed", zap.Error(err))
		httpError(w, http.StatusInternalServerError, delivery.CodeStore, "key store unavailable")
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, status int, code, reason string) {
	writeJSON(w, status, delivery.ErrorPayload{Code: code, Reason: reason})
}
