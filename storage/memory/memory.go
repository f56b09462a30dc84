// Package memory provides an in-memory implementation of storage.CodeStore.
// It is suitable for development, testing, and single-instance deployments.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oauth2u/instrumentation"
	"github.com/giantswarm/oauth2u/internal/util"
	"github.com/giantswarm/oauth2u/security"
	"github.com/giantswarm/oauth2u/storage"
)

const (
	// codeLogLength is the number of characters to include when logging codes
	// This provides enough uniqueness for debugging while keeping logs secure
	codeLogLength = 8

	// defaultCleanupInterval is used when no positive interval is configured
	defaultCleanupInterval = time.Minute
)

// clientEntry holds a client and the codes issued to it.
type clientEntry struct {
	client storage.Client
	codes  map[string]*storage.AuthorizationCode // code -> record
}

// Store is an in-memory implementation of storage.CodeStore.
type Store struct {
	mu sync.RWMutex

	// clients maps client_id -> client entry; codes are nested per client so
	// that a lookup can never cross clients.
	clients map[string]*clientEntry

	// Instrumentation
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer

	// Atomic counters for metrics (lock-free access during metric collection)
	clientsCountAtomic atomic.Int64
	codesCountAtomic   atomic.Int64

	// Cleanup
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

// Compile-time interface check
var _ storage.CodeStore = (*Store)(nil)

// New creates a new in-memory store with the default cleanup interval (1 minute)
func New() *Store {
	return NewWithInterval(defaultCleanupInterval)
}

// NewWithInterval creates a new in-memory store with custom cleanup interval.
// If cleanupInterval is 0 or negative, uses default of 1 minute.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = defaultCleanupInterval
	}

	s := &Store{
		clients:         make(map[string]*clientEntry),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}
	s.mu.Unlock()

	if inst != nil {
		err := inst.RegisterStorageSizeCallbacks(
			func() int64 { return s.clientsCountAtomic.Load() },
			func() int64 { return s.codesCountAtomic.Load() },
		)
		if err != nil {
			s.logger.Warn("Failed to register storage size callbacks", "error", err)
		}
	}
}

// Stop gracefully stops the cleanup goroutine. It is safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

// FindClient returns the client if any code was ever saved for it
func (s *Store) FindClient(_ context.Context, clientID string) (*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.clients[clientID]
	if !ok {
		return nil, storage.ErrClientNotFound
	}

	client := entry.client
	return &client, nil
}

// SaveNewAuthorizationCode saves an issued authorization code.
// The client is created on its first code.
func (s *Store) SaveNewAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	ctx, span := s.startStorageSpan(ctx, "save_authorization_code")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "save_authorization_code", err, startTime)
	}()

	if err = code.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.clients[code.ClientID]
	if !ok {
		entry = &clientEntry{
			client: storage.Client{
				ClientID:  code.ClientID,
				CreatedAt: time.Now(),
			},
			codes: make(map[string]*storage.AuthorizationCode),
		}
		s.clients[code.ClientID] = entry
		s.clientsCountAtomic.Add(1)
	}

	if _, exists := entry.codes[code.Code]; exists {
		err = storage.ErrAuthorizationCodeExists
		return err
	}

	// Store a copy so the caller cannot mutate our record
	stored := *code
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	entry.codes[code.Code] = &stored
	s.codesCountAtomic.Add(1)

	s.logger.Debug("Saved authorization code",
		"client_id", code.ClientID,
		"code_prefix", util.SafeTruncate(code.Code, codeLogLength))
	return nil
}

// ClientAuthorizationCodesCount returns the number of codes held for a client
func (s *Store) ClientAuthorizationCodesCount(_ context.Context, clientID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.clients[clientID]
	if !ok {
		return 0, nil
	}
	return len(entry.codes), nil
}

// ClientHasAuthorizationCode reports whether the client owns the code
func (s *Store) ClientHasAuthorizationCode(_ context.Context, clientID, code string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.lookup(clientID, code)
	return ok, nil
}

// IsClientAuthorizationCodeUsed reports whether the code was already consumed
func (s *Store) IsClientAuthorizationCodeUsed(_ context.Context, clientID, code string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	authCode, ok := s.lookup(clientID, code)
	if !ok {
		return false, storage.ErrAuthorizationCodeNotFound
	}
	return authCode.Used, nil
}

// MarkClientAuthorizationCodeAsUsed flags the code as consumed
func (s *Store) MarkClientAuthorizationCodeAsUsed(ctx context.Context, clientID, code string) error {
	ctx, span := s.startStorageSpan(ctx, "mark_authorization_code_used")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "mark_authorization_code_used", err, startTime)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	authCode, ok := s.lookup(clientID, code)
	if !ok {
		err = storage.ErrAuthorizationCodeNotFound
		return err
	}

	authCode.Used = true
	return nil
}

// GetRedirectURI returns the redirect URI bound to the code
func (s *Store) GetRedirectURI(_ context.Context, clientID, code string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	authCode, ok := s.lookup(clientID, code)
	if !ok {
		return "", storage.ErrAuthorizationCodeNotFound
	}
	return authCode.RedirectURI, nil
}

// GetState returns the client state recorded with the code
func (s *Store) GetState(_ context.Context, clientID, code string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	authCode, ok := s.lookup(clientID, code)
	if !ok {
		return "", storage.ErrAuthorizationCodeNotFound
	}
	return authCode.State, nil
}

// AtomicCheckAndMarkAuthCodeUsed atomically checks if a code is unused and marks it as used.
// Returns the auth code if successful, or an error if code is missing, expired or already used.
//
// SECURITY: This operation is atomic - only ONE concurrent request can succeed.
// All other concurrent requests will receive ErrAuthorizationCodeUsed.
//
// The record is returned alongside ErrAuthorizationCodeUsed so that callers
// can audit the reuse. For other errors nil is returned.
func (s *Store) AtomicCheckAndMarkAuthCodeUsed(ctx context.Context, clientID, code string) (*storage.AuthorizationCode, error) {
	ctx, span := s.startStorageSpan(ctx, "consume_authorization_code")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "consume_authorization_code", err, startTime)
	}()

	s.mu.Lock() // MUST use write lock for atomic check-and-set
	defer s.mu.Unlock()

	authCode, ok := s.lookup(clientID, code)
	if !ok {
		err = storage.ErrAuthorizationCodeNotFound
		return nil, err
	}

	if authCode.Expired(time.Now()) {
		err = storage.ErrAuthorizationCodeExpired
		return nil, err
	}

	if authCode.Used {
		codeCopy := *authCode
		err = storage.ErrAuthorizationCodeUsed
		return &codeCopy, err
	}

	authCode.Used = true
	s.logger.Debug("Marked authorization code as used",
		"client_id", clientID,
		"code_prefix", util.SafeTruncate(code, codeLogLength))

	// Return a COPY to prevent caller from modifying our stored version
	codeCopy := *authCode
	return &codeCopy, nil
}

// lookup finds a code within a client's set. Must be called with mu held.
func (s *Store) lookup(clientID, code string) (*storage.AuthorizationCode, bool) {
	entry, ok := s.clients[clientID]
	if !ok {
		return nil, false
	}
	authCode, ok := entry.codes[code]
	return authCode, ok
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// cleanup removes expired codes (with clock skew grace period). Clients are
// kept even when their last code is removed so FindClient stays stable.
func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleaned := 0
	for _, entry := range s.clients {
		for code, authCode := range entry.codes {
			if security.IsExpired(authCode.ExpiresAt) {
				delete(entry.codes, code)
				cleaned++
			}
		}
	}

	if cleaned > 0 {
		s.codesCountAtomic.Add(-int64(cleaned))
		s.logger.Debug("Cleaned up expired authorization codes", "count", cleaned)
	}
}

// ============================================================
// Instrumentation Helpers
// ============================================================

// startStorageSpan starts a new span for a storage operation
func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	return s.tracer.Start(ctx, fmt.Sprintf("storage.%s", operation),
		trace.WithAttributes(
			attribute.String(instrumentation.AttrStorageOperation, operation),
			attribute.String(instrumentation.AttrStorageType, "memory"),
		))
}

// recordStorageOperation records metrics for a storage operation and sets span status
func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if s.instrumentation == nil {
		return
	}

	durationMs := float64(time.Since(startTime).Microseconds()) / 1000
	result := "success"
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	s.instrumentation.Metrics().RecordStorageOperation(ctx, "memory", operation, result, durationMs)
}
