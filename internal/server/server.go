// Package server hosts the websocket gateway and the HTTP API in front of the
// delivery engine, plus the admin endpoint for metrics and health probes.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/whisperline/whisperline/internal/auth"
	"github.com/whisperline/whisperline/internal/config"
	"github.com/whisperline/whisperline/internal/delivery"
	"github.com/whisperline/whisperline/internal/store"
	"go.uber.org/zap"
)

// Deps collects the collaborators the gateway serves.
type Deps struct {
	Verifier   auth.Verifier
	Engine     *delivery.Engine
	Messages   store.MessageStore
	Keys       store.KeyStore
	Membership store.Membership
	Registry   *prometheus.Registry
}

// GatewayServer wires dependencies and hosts the public HTTP/websocket
// listener together with the admin endpoint.
type GatewayServer struct {
	cfg  config.Config
	log  *zap.Logger
	deps Deps

	httpServer *http.Server
	adminHTTP  *http.Server
	upgrader   websocket.Upgrader
	ready      atomic.Bool
}

// New constructs a server with its dependencies.
func New(cfg config.Config, logger *zap.Logger, deps Deps) *GatewayServer {
	return &GatewayServer{
		cfg:  cfg,
		log:  logger,
		deps: deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin policy is enforced by the fronting proxy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler builds the public route table. Exposed separately so tests can mount
// it on an httptest server.
func (s *GatewayServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWebsocket)
	mux.HandleFunc("GET /api/conversations/{id}/messages", s.withIdentity(s.handleHistory))
	mux.HandleFunc("GET /api/conversations/{id}/key", s.withIdentity(s.handleConversationKey))
	mux.HandleFunc("GET /api/keypair", s.withIdentity(s.handleGetKeyPair))
	mux.HandleFunc("PUT /api/keypair", s.withIdentity(s.handlePutKeyPair))
	return mux
}

// Start boots the public listener and blocks until shutdown.
func (s *GatewayServer) Start(ctx context.Context) error {
	if s.deps.Registry != nil {
		s.deps.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	s.startAdminServer(s.deps.Registry)

	s.httpServer = &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.Admin.ReadHeaderTimeout,
	}

	go func() {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGracePeriod)
		defer cancel()
		s.Shutdown(stopCtx)
	}()

	s.log.Info("gateway listening", zap.String("address", s.cfg.ListenAddress))
	s.ready.Store(true)
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve http: %w", err)
	}
	return nil
}

func (s *GatewayServer) startAdminServer(reg *prometheus.Registry) {
	if s.cfg.Admin.Address == "" || reg == nil {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if s.ready.Load() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not_ready"))
	})

	s.adminHTTP = &http.Server{
		Addr:              s.cfg.Admin.Address,
		Handler:           mux,
		ReadHeaderTimeout: s.cfg.Admin.ReadHeaderTimeout,
	}

	go func() {
		if err := s.adminHTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("admin server stopped", zap.Error(err))
		}
	}()
	s.log.Info("admin server listening", zap.String("address", s.cfg.Admin.Address))
}

// Shutdown attempts a graceful stop before forcing termination.
func (s *GatewayServer) Shutdown(ctx context.Context) {
	s.ready.Store(false)

	if s.adminHTTP != nil {
		if err := s.adminHTTP.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("admin server shutdown", zap.Error(err))
		}
	}
	if s.httpServer == nil {
		return
	}
	if err := s.httpServer.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Warn("gateway shutdown timed out; forcing close", zap.Error(err))
		_ = s.httpServer.Close()
		return
	}
	s.log.Info("gateway stopped")
}
