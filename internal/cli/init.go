// Package cli provides common initialization shared by cmd/ledgerctl and
// cmd/ledger-worker.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/bakir004/expense-tracker-sub001/internal/backend"
	"github.com/bakir004/expense-tracker-sub001/internal/cache"
	"github.com/bakir004/expense-tracker-sub001/internal/config"
	"github.com/bakir004/expense-tracker-sub001/internal/core"
	"github.com/bakir004/expense-tracker-sub001/internal/log"
	"github.com/bakir004/expense-tracker-sub001/internal/services"
)

// SetupLogger initializes structured logging at level for component and sets
// it as the default logger.
func SetupLogger(level, component string) *log.Logger {
	logger := log.New(log.Config{
		Level:     log.ParseLevel(level),
		Component: component,
		Output:    os.Stderr,
	})
	log.SetDefault(logger)
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration and validates it.
func LoadAndValidateConfig() (*config.Config, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// App is the ledger wired to its configured backend.
type App struct {
	Config   *config.Config
	Backend  *backend.BackendResult
	Ledger   *services.LedgerService
	Balances *services.BalanceService
	Caches   *cache.Manager
}

// NewApp opens the configured backend and builds the services on top of it.
func NewApp(ctx context.Context, cfg *config.Config, logger *log.Logger) (*App, error) {
	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	res, err := backend.NewFactory(logger.Logger).CreateBackend(ctx, bcfg)
	if err != nil {
		return nil, fmt.Errorf("create backend: %w", err)
	}

	users := cache.NewLRUCache[uuid.UUID, core.User](cfg.UserCacheSize, cfg.UserCacheTTL)
	caches := cache.NewManager(logger.WithComponent(log.ComponentCache).Logger)
	caches.Register(users)

	balances := services.NewBalanceService(res.Store, users)
	opts := []services.LedgerOption{
		services.WithVerifyWrites(cfg.VerifyWrites),
		services.WithUserInvalidator(balances),
		services.WithLogger(logger),
	}
	if res.Publisher != nil {
		opts = append(opts, services.WithPublisher(res.Publisher))
	}

	return &App{
		Config:   cfg,
		Backend:  res,
		Ledger:   services.NewLedgerService(res.Store, opts...),
		Balances: balances,
		Caches:   caches,
	}, nil
}

// Close stops cache cleanup and releases the backend.
func (a *App) Close() error {
	a.Caches.Stop()
	return a.Backend.Cleanup()
}

// GracefulShutdown sets up signal handling for graceful shutdown.
// Returns a context that will be cancelled on shutdown signals,
// and a channel that signals when shutdown is complete.
func GracefulShutdown(logger *slog.Logger, timeout time.Duration, cleanup func(ctx context.Context)) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String())
		case <-ctx.Done():
		}

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

// WaitForShutdown blocks until the context is cancelled.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
