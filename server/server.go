package server

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oauth2u/instrumentation"
	"github.com/giantswarm/oauth2u/security"
	"github.com/giantswarm/oauth2u/storage"
)

// codeLogLength is the number of code characters included in logs
const codeLogLength = 8

// Server implements the authorization code grant independently of HTTP.
// It coordinates the code store, the token generator and client authentication.
type Server struct {
	store         storage.CodeStore
	generator     TokenGenerator
	authenticator ClientAuthenticator

	Auditor     *security.Auditor
	RateLimiter *security.RateLimiter // IP-based rate limiter, nil disables it
	Logger      *slog.Logger
	Config      *Config

	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
}

// Option configures optional collaborators of a Server
type Option func(*Server)

// WithTokenGenerator replaces the default RandomTokenGenerator
func WithTokenGenerator(g TokenGenerator) Option {
	return func(s *Server) { s.generator = g }
}

// WithClientAuthenticator replaces the default SecretAuthenticator
func WithClientAuthenticator(a ClientAuthenticator) Option {
	return func(s *Server) { s.authenticator = a }
}

// WithAuditor sets the security auditor
func WithAuditor(a *security.Auditor) Option {
	return func(s *Server) { s.Auditor = a }
}

// WithRateLimiter sets the IP-based rate limiter used by the HTTP handler
func WithRateLimiter(rl *security.RateLimiter) Option {
	return func(s *Server) { s.RateLimiter = rl }
}

// WithInstrumentation enables metrics and tracing for the flows
func WithInstrumentation(inst *instrumentation.Instrumentation) Option {
	return func(s *Server) { s.instrumentation = inst }
}

// New creates a new OAuth server
func New(store storage.CodeStore, config *Config, logger *slog.Logger, opts ...Option) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("code store is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	config = applySecureDefaults(config, logger)
	if err := validateConfig(config); err != nil {
		return nil, err
	}

	srv := &Server{
		store:  store,
		Logger: logger,
		Config: config,
	}
	for _, opt := range opts {
		opt(srv)
	}

	if srv.generator == nil {
		srv.generator = RandomTokenGenerator{AccessTokenTTL: config.AccessTokenTTL}
	}
	if srv.authenticator == nil {
		srv.authenticator = SecretAuthenticator{Secrets: config.ClientSecrets}
	}
	if srv.instrumentation != nil {
		srv.tracer = srv.instrumentation.Tracer("server")
	}

	return srv, nil
}

// Store returns the code store
func (s *Server) Store() storage.CodeStore {
	return s.store
}

// Instrumentation returns the instrumentation, or nil when disabled
func (s *Server) Instrumentation() *instrumentation.Instrumentation {
	return s.instrumentation
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetRateLimiter sets the IP-based rate limiter
func (s *Server) SetRateLimiter(rl *security.RateLimiter) {
	s.RateLimiter = rl
}

// startSpan starts a flow span, or returns a no-op span when tracing is off.
func (s *Server) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(context.Background())
	}
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// metrics runs record when instrumentation is enabled
func (s *Server) metrics(record func(m *instrumentation.Metrics)) {
	if s.instrumentation == nil {
		return
	}
	record(s.instrumentation.Metrics())
}
