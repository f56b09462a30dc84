package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/giantswarm/oauth2u"
	"github.com/giantswarm/oauth2u/instrumentation"
	"github.com/giantswarm/oauth2u/security"
	"github.com/giantswarm/oauth2u/server"
)

const (
	serverRequestTimeout = 10 * time.Second
	serverReadTimeout    = 10 * time.Second
	serverWriteTimeout   = 15 * time.Second // Must be > serverRequestTimeout to let middleware handle timeout
	serverIdleTimeout    = 60 * time.Second
)

func newServeCmd(v *viper.Viper, info BuildInfo) *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the authorization server",
		Long: `Start the authorization server on --address.

Clients with a secret are declared in the config file:

  clients:
    - id: client1
      secret_hash: $2a$10$...   # output of "oauth2u hash-secret"

Other clients authenticate with the authorization code as Basic password.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			cfg.Version = info.Version

			logger, err := newLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServe(ctx, cfg, logger)
		},
	}

	flags := serveCmd.Flags()
	flags.String("address", defaultAddress, "Address to listen on")
	flags.String("storage", StorageMemory, "Code storage backend (memory, sqlite, valkey)")
	flags.String("sqlite-path", defaultSQLitePath, "SQLite database file")
	flags.String("valkey-address", defaultValkeyAddress, "Valkey server address")
	flags.String("valkey-password", "", "Valkey password")
	flags.Int("valkey-db", 0, "Valkey database number")
	flags.String("valkey-prefix", "", "Valkey key prefix (default \"oauth2u:\")")
	flags.Duration("code-ttl", defaultCodeTTL, "Authorization code lifetime, 0 disables expiry")
	flags.Duration("access-token-ttl", defaultAccessTokenTTL, "Access token lifetime reported as expires_in")
	flags.Duration("cleanup-interval", defaultCleanupInterval, "How often expired codes are deleted (sqlite)")
	flags.Float64("rate-limit", 0, "Requests per second per client IP, 0 disables rate limiting")
	flags.Int("rate-burst", defaultRateBurst, "Burst size per client IP")
	flags.Bool("trust-proxy", false, "Trust X-Forwarded-For and X-Forwarded-Proto (only behind a trusted proxy)")
	flags.String("metrics", defaultMetricsExporter, "Metrics exporter (prometheus, none)")
	flags.Bool("audit", false, "Write security audit events to the log")
	flags.Duration("shutdown-timeout", defaultShutdownTimeout, "Graceful shutdown timeout")

	if err := v.BindPFlags(flags); err != nil {
		panic(fmt.Sprintf("failed to bind serve flags: %v", err))
	}

	return serveCmd
}

// runServe serves until ctx is done, then shuts down gracefully
func runServe(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close(logger)

	httpServer := &http.Server{
		Addr:              cfg.Address,
		Handler:           a.router,
		ReadTimeout:       serverReadTimeout,
		ReadHeaderTimeout: serverReadTimeout,
		WriteTimeout:      serverWriteTimeout,
		IdleTimeout:       serverIdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening", "address", cfg.Address)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("Server shutdown complete")
	return nil
}

// app holds the wired components of a running server
type app struct {
	router  http.Handler
	inst    *instrumentation.Instrumentation
	closers []func() error
}

// newApp wires storage, instrumentation, security and the HTTP router
func newApp(ctx context.Context, cfg *Config, logger *slog.Logger) (*app, error) {
	a := &app{}

	if cfg.Metrics != instrumentation.ExporterNone {
		inst, err := instrumentation.New(instrumentation.Config{
			Enabled:         true,
			ServiceName:     instrumentation.DefaultServiceName,
			ServiceVersion:  cfg.Version,
			MetricsExporter: cfg.Metrics,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize instrumentation: %w", err)
		}
		a.inst = inst
		a.closers = append(a.closers, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return inst.Shutdown(ctx)
		})
	}

	store, closeStore, err := openStore(ctx, cfg, logger, a.inst)
	if err != nil {
		a.close(logger)
		return nil, err
	}
	a.closers = append(a.closers, closeStore)

	auditor := security.NewAuditor(logger, cfg.Audit)
	if a.inst != nil {
		auditor.SetInstrumentation(a.inst)
	}

	opts := []server.Option{server.WithAuditor(auditor)}
	if a.inst != nil {
		opts = append(opts, server.WithInstrumentation(a.inst))
	}
	if cfg.RateLimit > 0 {
		rl := security.NewRateLimiter(cfg.RateLimit, cfg.RateBurst, logger)
		a.closers = append(a.closers, func() error { rl.Stop(); return nil })
		opts = append(opts, server.WithRateLimiter(rl))
		logger.Info("Rate limiting enabled", "requests_per_second", cfg.RateLimit, "burst", cfg.RateBurst)
	}

	srv, err := server.New(store, cfg.serverConfig(), logger, opts...)
	if err != nil {
		a.close(logger)
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	a.router = newRouter(oauth2u.NewHandler(srv, logger), a.inst, logger)
	return a, nil
}

// close releases components in reverse order of creation
func (a *app) close(logger *slog.Logger) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn("Failed to release resource", "error", err)
		}
	}
	a.closers = nil
}

func newRouter(handler *oauth2u.Handler, inst *instrumentation.Instrumentation, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer,
		security.RequestIDMiddleware,
		requestLogger(logger),
		middleware.Timeout(serverRequestTimeout),
	)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if inst != nil {
		if metrics := inst.PrometheusHandler(); metrics != nil {
			r.Handle("/metrics", metrics)
		}
	}

	handler.RegisterRoutes(r)
	return r
}
