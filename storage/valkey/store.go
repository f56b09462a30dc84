package valkey

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oauth2u/instrumentation"
	"github.com/giantswarm/oauth2u/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys
	DefaultKeyPrefix = "oauth2u:"

	// DefaultExpiredRetention is how long a code key outlives its expiry, so
	// a late exchange is reported as expired rather than unknown
	DefaultExpiredRetention = time.Minute

	// codeLogLength is the number of code characters to include when logging
	codeLogLength = 8

	// scanBatchSize is the number of keys to fetch per SCAN iteration
	scanBatchSize = 100

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second

	// sizeScanTimeout bounds the SCAN walks behind the size gauges
	sizeScanTimeout = 5 * time.Second

	// MaxCodeLength is the maximum allowed length for authorization codes
	MaxCodeLength = 512

	// MaxIDLength is the maximum allowed length for client identifiers
	MaxIDLength = 256

	// storageType labels spans and metrics
	storageType = "valkey"
)

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "oauth2u:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// ExpiredRetention is how long expired codes are kept before Valkey drops them (default 1m)
	ExpiredRetention time.Duration

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store is a Valkey-backed implementation of storage.CodeStore.
type Store struct {
	client           valkeygo.Client
	prefix           string
	expiredRetention time.Duration
	logger           *slog.Logger

	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
}

// Compile-time interface check
var _ storage.CodeStore = (*Store)(nil)

// New creates a new Valkey-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	retention := cfg.ExpiredRetention
	if retention <= 0 {
		retention = DefaultExpiredRetention
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client:           client,
		prefix:           prefix,
		expiredRetention: retention,
		logger:           logger,
	}, nil
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store.
// The size gauges walk the keyspace with SCAN on every collection.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instrumentation = inst
	if inst == nil {
		return
	}
	s.tracer = inst.Tracer("storage")

	err := inst.RegisterStorageSizeCallbacks(
		func() int64 { return s.countKeys(s.prefix + "client:*") },
		func() int64 { return s.countKeys(s.prefix + "code:*") },
	)
	if err != nil {
		s.logger.Warn("Failed to register storage size callbacks", "error", err)
	}
}

// validateStringLength checks if a string exceeds the maximum allowed length
func validateStringLength(value string, maxLen int, fieldName string) error {
	if len(value) > maxLen {
		return fmt.Errorf("%s exceeds maximum length of %d bytes", fieldName, maxLen)
	}
	return nil
}

func validateKeyParts(clientID, code string) error {
	if err := validateStringLength(clientID, MaxIDLength, "client_id"); err != nil {
		return err
	}
	return validateStringLength(code, MaxCodeLength, "code")
}

// ============================================================
// Key Helpers
// ============================================================
//
// Client IDs and codes are query-escaped so a ':' inside either one cannot
// make two different pairs share a key.

// clientKey returns the key for a client: {prefix}client:{clientID}
func (s *Store) clientKey(clientID string) string {
	return fmt.Sprintf("%sclient:%s", s.prefix, url.QueryEscape(clientID))
}

// clientCodesKey returns the key for a client's code index: {prefix}codes:{clientID}
func (s *Store) clientCodesKey(clientID string) string {
	return fmt.Sprintf("%scodes:%s", s.prefix, url.QueryEscape(clientID))
}

// codeKeyPrefix returns the common prefix of a client's code keys: {prefix}code:{clientID}:
func (s *Store) codeKeyPrefix(clientID string) string {
	return fmt.Sprintf("%scode:%s:", s.prefix, url.QueryEscape(clientID))
}

// codeKey returns the key for an authorization code: {prefix}code:{clientID}:{code}
func (s *Store) codeKey(clientID, code string) string {
	return s.codeKeyPrefix(clientID) + codeMember(code)
}

// codeMember is the code's entry in the client's index set
func codeMember(code string) string {
	return url.QueryEscape(code)
}

// ============================================================
// JSON Serialization Helpers
// ============================================================
//
// Timestamps are Unix milliseconds: Lua's cjson re-encodes numbers with 14
// significant digits, which nanoseconds would exceed.

// authorizationCodeJSON is the JSON representation of an authorization code
type authorizationCodeJSON struct {
	Code        string `json:"code"`
	ClientID    string `json:"client_id"`
	State       string `json:"state"`
	RedirectURI string `json:"redirect_uri"`
	CreatedAt   int64  `json:"created_at"`
	ExpiresAt   int64  `json:"expires_at"` // 0 means no expiry
	Used        bool   `json:"used"`
}

func toAuthorizationCodeJSON(code *storage.AuthorizationCode) *authorizationCodeJSON {
	j := &authorizationCodeJSON{
		Code:        code.Code,
		ClientID:    code.ClientID,
		State:       code.State,
		RedirectURI: code.RedirectURI,
		CreatedAt:   code.CreatedAt.UnixMilli(),
		Used:        code.Used,
	}
	if !code.ExpiresAt.IsZero() {
		j.ExpiresAt = code.ExpiresAt.UnixMilli()
	}
	return j
}

func fromAuthorizationCodeJSON(j *authorizationCodeJSON) *storage.AuthorizationCode {
	if j == nil {
		return nil
	}
	code := &storage.AuthorizationCode{
		Code:        j.Code,
		ClientID:    j.ClientID,
		State:       j.State,
		RedirectURI: j.RedirectURI,
		CreatedAt:   time.UnixMilli(j.CreatedAt),
		Used:        j.Used,
	}
	if j.ExpiresAt > 0 {
		code.ExpiresAt = time.UnixMilli(j.ExpiresAt)
	}
	return code
}

func decodeAuthorizationCode(data string) (*storage.AuthorizationCode, error) {
	var j authorizationCodeJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization code: %w", err)
	}
	return fromAuthorizationCodeJSON(&j), nil
}

// clientJSON is the JSON representation of a client record
type clientJSON struct {
	ClientID  string `json:"client_id"`
	CreatedAt int64  `json:"created_at"`
}

// ============================================================
// Helper methods
// ============================================================

// getAndUnmarshal fetches a key, unmarshals the JSON data and converts it.
func getAndUnmarshal[J any, T any](
	ctx context.Context,
	s *Store,
	key string,
	notFoundErr error,
	fromJSON func(*J) *T,
) (*T, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, notFoundErr
		}
		return nil, fmt.Errorf("failed to get data: %w", err)
	}

	var j J
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal data: %w", err)
	}

	return fromJSON(&j), nil
}

// codeTTLMillis returns the key TTL for a code in milliseconds, 0 for none.
func (s *Store) codeTTLMillis(expiresAt time.Time) int64 {
	if expiresAt.IsZero() {
		return 0
	}
	ttl := time.Until(expiresAt) + s.expiredRetention
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}
	return ttl.Milliseconds()
}

// countKeys counts keys matching pattern with SCAN; errors report -1.
func (s *Store) countKeys(pattern string) int64 {
	ctx, cancel := context.WithTimeout(context.Background(), sizeScanTimeout)
	defer cancel()

	var (
		cursor uint64
		total  int64
	)
	for {
		entry, err := s.client.Do(ctx,
			s.client.B().Scan().Cursor(cursor).Match(pattern).Count(scanBatchSize).Build(),
		).AsScanEntry()
		if err != nil {
			s.logger.Debug("Storage size scan failed", "pattern", pattern, "error", err)
			return -1
		}
		total += int64(len(entry.Elements))

		cursor = entry.Cursor
		if cursor == 0 {
			return total
		}
	}
}

// nowMillis is the current time as passed to Lua scripts
func nowMillis() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}

// isNilError checks if the error is a Valkey nil response (key not found)
func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}

var errUnexpectedScriptResult = errors.New("unexpected script result")

// ============================================================
// Instrumentation Helpers
// ============================================================

func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	return s.tracer.Start(ctx, fmt.Sprintf("storage.%s", operation),
		trace.WithAttributes(
			attribute.String(instrumentation.AttrStorageOperation, operation),
			attribute.String(instrumentation.AttrStorageType, storageType),
		))
}

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

	s.instrumentation.Metrics().RecordStorageOperation(ctx, storageType, operation, result, durationMs)
}
