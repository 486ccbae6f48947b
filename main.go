package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"churnpilot/internal/agent"
	"churnpilot/internal/config"
	"churnpilot/internal/customer"
	"churnpilot/internal/logger"
	"churnpilot/internal/memory"
	"churnpilot/internal/server"
	"churnpilot/internal/session"
)

func main() {
	// .env is a development convenience; absence is fine.
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	if err := logger.Init(cfg.Log); err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize logger")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	customers := customer.NewStore(cfg.Data.Dir)
	logger.Info().
		Int("customers", len(customers.AvailableCustomers())).
		Str("data_dir", cfg.Data.Dir).
		Msg("customer data store ready")

	mem, err := memory.Open(cfg.Memory.DBPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open conversation memory")
	}
	defer mem.Close()

	registry, err := newRegistry(ctx, cfg.Session)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start session registry")
	}
	defer registry.Close()

	orchestrator, err := agent.New(ctx, cfg.Agent, mem, customers)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build agent")
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.New(orchestrator, mem, customers, registry),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown did not complete cleanly")
	}
}

func newRegistry(ctx context.Context, cfg config.SessionConfig) (session.Registry, error) {
	ttl := time.Duration(cfg.TTLSeconds) * time.Second
	if cfg.Backend == "redis" {
		return session.NewRedisRegistry(ctx, cfg.RedisURL, ttl)
	}
	return session.NewMemoryRegistry(ttl), nil
}
