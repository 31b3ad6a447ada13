// Package cli provides common CLI initialization utilities shared by
// cmd/cuentas, cmd/cuentas-worker and cmd/cuentas-token.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"cuentas/internal/config"
	"cuentas/internal/ledger"
	"cuentas/internal/ledger/memory"
	"cuentas/internal/log"
	"cuentas/internal/storage"
)

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// SetupLogger builds the process logger from a LOG_LEVEL value and installs
// it as the slog default.
func SetupLogger(level string) *log.Logger {
	cfg := log.DefaultConfig()
	cfg.Level = log.ParseLevel(level)
	logger := log.New(cfg)
	log.SetDefault(logger)
	return logger
}

// LoadAndValidateConfig loads configuration and validates it, including the
// server-only checks when server is true. It exits the process on failure.
func LoadAndValidateConfig(logger *log.Logger, server bool) *config.Config {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Configuration load failed", log.FieldError, err)
		os.Exit(1)
	}
	validate := cfg.Validate
	if server {
		validate = cfg.ValidateServer
	}
	if err := validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}
	return cfg
}

// Backend is an opened ledger store together with its lifecycle hooks.
type Backend struct {
	ledger.Store
	Name  string
	ping  func(context.Context) error
	close func() error
}

// Ping reports whether the backing database is reachable.
func (b *Backend) Ping(ctx context.Context) error {
	if b.ping == nil {
		return nil
	}
	return b.ping(ctx)
}

func (b *Backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// OpenStore opens the ledger selected by cfg.DataBackend. SQL backends are
// migrated before they are returned.
func OpenStore(ctx context.Context, cfg *config.Config, logger *log.Logger) (*Backend, error) {
	switch cfg.DataBackend {
	case config.BackendMemory, "":
		logger.Warn("Using in-memory ledger; data is lost on restart")
		return &Backend{Store: memory.New(), Name: config.BackendMemory}, nil
	case config.BackendSQLite:
		repo, err := storage.Open(ctx, storage.SQLite, cfg.SQLiteDBPath, logger)
		if err != nil {
			return nil, fmt.Errorf("open sqlite ledger at %s: %w", cfg.SQLiteDBPath, err)
		}
		return &Backend{Store: repo, Name: config.BackendSQLite, ping: repo.Ping, close: repo.Close}, nil
	case config.BackendPostgres:
		repo, err := storage.Open(ctx, storage.Postgres, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, fmt.Errorf("open postgres ledger: %w", err)
		}
		return &Backend{Store: repo, Name: config.BackendPostgres, ping: repo.Ping, close: repo.Close}, nil
	default:
		return nil, fmt.Errorf("unknown data backend %q", cfg.DataBackend)
	}
}

// GracefulShutdown sets up signal handling for graceful shutdown.
// Returns a context that will be cancelled on shutdown signals,
// and a channel that signals when shutdown is complete.
func GracefulShutdown(logger *log.Logger, timeout time.Duration, cleanup func(context.Context)) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()

		cancel()
		if cleanup != nil {
			cleanup(shutdownCtx)
		}
		if shutdownCtx.Err() != nil {
			logger.Warn("Shutdown timeout reached")
		} else {
			logger.Info("Shutdown complete")
		}
		close(done)
	}()

	return ctx, done
}

// WaitForShutdown blocks until the context is cancelled and cleanup is done.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
