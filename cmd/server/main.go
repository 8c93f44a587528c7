package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/whisperline/whisperline/internal/auth"
	"github.com/whisperline/whisperline/internal/config"
	"github.com/whisperline/whisperline/internal/delivery"
	"github.com/whisperline/whisperline/internal/logging"
	"github.com/whisperline/whisperline/internal/rooms"
	"github.com/whisperline/whisperline/internal/server"
	"github.com/whisperline/whisperline/internal/session"
	"github.com/whisperline/whisperline/internal/store"
	"github.com/whisperline/whisperline/internal/store/memory"
	"github.com/whisperline/whisperline/internal/store/postgres"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML/JSON config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() // best-effort flush

	secret, err := cfg.TokenSecret()
	if err != nil {
		logger.Fatal("token secret unavailable", zap.Error(err))
	}
	verifier, err := auth.NewJWTVerifier(secret)
	if err != nil {
		logger.Fatal("build token verifier", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	messages, keyStore, membership := openStores(ctx, cfg, logger)

	promReg := prometheus.NewRegistry()
	metrics := delivery.NewMetrics(promReg)

	registry := session.NewRegistry()
	router := rooms.NewRouter(logger, membership)
	engine := delivery.NewEngine(logger, registry, router, messages, membership, metrics)

	srv := server.New(cfg, logger, server.Deps{
		Verifier:   verifier,
		Engine:     engine,
		Messages:   messages,
		Keys:       keyStore,
		Membership: membership,
		Registry:   promReg,
	})

	if err := srv.Start(ctx); err != nil {
		logger.Fatal("server exited with error", zap.Error(err))
	}
}

// openStores selects database-backed stores when a DSN is configured and
// in-memory stores otherwise.
func openStores(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.MessageStore, store.KeyStore, store.Membership) {
	dsn := cfg.DatabaseDSN()
	if dsn == "" {
		logger.Info("no database configured; using in-memory stores")
		return memory.NewMessageStore(), memory.NewKeyStore(), memory.NewMembership()
	}

	stores, err := postgres.Open(ctx, dsn)
	if err != nil {
		logger.Fatal("open database", zap.Error(err))
	}
	logger.Info("database stores ready")
	return stores.Messages, stores.Keys, stores.Membership
}
