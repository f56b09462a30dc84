package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/giantswarm/oauth2u/instrumentation"
	"github.com/giantswarm/oauth2u/storage"
	"github.com/giantswarm/oauth2u/storage/memory"
	"github.com/giantswarm/oauth2u/storage/sqlite"
	"github.com/giantswarm/oauth2u/storage/valkey"
)

// expiredCodeDeleter is implemented by stores that need an external sweep
// to drop expired codes
type expiredCodeDeleter interface {
	DeleteExpiredAuthorizationCodes(ctx context.Context) (int64, error)
}

// openStore opens the configured code store. The returned function releases it.
func openStore(ctx context.Context, cfg *Config, logger *slog.Logger, inst *instrumentation.Instrumentation) (storage.CodeStore, func() error, error) {
	switch cfg.Storage {
	case StorageMemory:
		store := memory.New()
		store.SetLogger(logger)
		if inst != nil {
			store.SetInstrumentation(inst)
		}
		logger.Info("Using in-memory storage")
		return store, func() error { store.Stop(); return nil }, nil

	case StorageSQLite:
		store, err := sqlite.New(ctx, sqlite.Config{Path: cfg.SQLitePath, Logger: logger})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite storage: %w", err)
		}
		if inst != nil {
			store.SetInstrumentation(inst)
		}

		cleanupCtx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			runCleanup(cleanupCtx, store, cfg.CleanupInterval, logger)
		}()

		logger.Info("Using sqlite storage", "path", cfg.SQLitePath)
		return store, func() error {
			cancel()
			<-done
			return store.Close()
		}, nil

	case StorageValkey:
		vcfg := cfg.valkeyConfig()
		vcfg.Logger = logger
		store, err := valkey.New(vcfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open valkey storage: %w", err)
		}
		if inst != nil {
			store.SetInstrumentation(inst)
		}
		logger.Info("Using valkey storage", "address", cfg.ValkeyAddress)
		return store, func() error { store.Close(); return nil }, nil
	}

	return nil, nil, fmt.Errorf("unknown storage %q", cfg.Storage)
}

// runCleanup deletes expired codes every interval until ctx is done
func runCleanup(ctx context.Context, store expiredCodeDeleter, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.DeleteExpiredAuthorizationCodes(ctx)
			if err != nil {
				if ctx.Err() == nil {
					logger.Warn("Failed to delete expired authorization codes", "error", err)
				}
				continue
			}
			if n > 0 {
				logger.Debug("Deleted expired authorization codes", "count", n)
			}
		}
	}
}
