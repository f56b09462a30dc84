package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	sqlite3 "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/giantswarm/oauth2u/instrumentation"
	"github.com/giantswarm/oauth2u/internal/util"
	"github.com/giantswarm/oauth2u/security"
	"github.com/giantswarm/oauth2u/storage"
)

const (
	// codeLogLength is the number of code characters included in logs
	codeLogLength = 8

	// storageType labels spans and metrics
	storageType = "sqlite"

	// sizeQueryTimeout bounds the COUNT queries behind the size gauges
	sizeQueryTimeout = 2 * time.Second
)

// Config holds SQLite store configuration
type Config struct {
	// Path is the database file. ":memory:" gives a private in-memory database.
	Path string

	// BusyTimeout is how long a statement waits on a locked database (default 5s)
	BusyTimeout time.Duration

	// Logger for store operations (default: slog.Default())
	Logger *slog.Logger
}

// Store implements storage.CodeStore using SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
}

// Compile-time interface check
var _ storage.CodeStore = (*Store)(nil)

// New opens (or creates) the database, applies pending migrations and returns the store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %q: %w", cfg.Path, err)
	}

	// A single connection serialises writers and keeps ":memory:" databases
	// alive for the lifetime of the store.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.BusyTimeout.Milliseconds()),
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info("SQLite code store ready", "path", cfg.Path)

	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instrumentation = inst
	if inst == nil {
		return
	}
	s.tracer = inst.Tracer("storage")

	err := inst.RegisterStorageSizeCallbacks(
		func() int64 { return s.count("SELECT COUNT(*) FROM clients") },
		func() int64 { return s.count("SELECT COUNT(*) FROM authorization_codes") },
	)
	if err != nil {
		s.logger.Warn("Failed to register storage size callbacks", "error", err)
	}
}

// FindClient returns the client if any code was ever saved for it
func (s *Store) FindClient(ctx context.Context, clientID string) (*storage.Client, error) {
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT created_at FROM clients WHERE client_id = ?`, clientID,
	).Scan(&createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrClientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying client: %w", err)
	}

	return &storage.Client{
		ClientID:  clientID,
		CreatedAt: time.Unix(0, createdAt),
	}, nil
}

// SaveNewAuthorizationCode inserts a new code, creating its client on first use.
func (s *Store) SaveNewAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) (err error) {
	ctx, span := s.startStorageSpan(ctx, "save_authorization_code")
	defer span.End()

	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "save_authorization_code", err, startTime)
	}()

	if err = code.Validate(); err != nil {
		return err
	}

	createdAt := code.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO clients (client_id, created_at) VALUES (?, ?)
		 ON CONFLICT (client_id) DO NOTHING`,
		code.ClientID, time.Now().UnixNano(),
	); err != nil {
		return fmt.Errorf("inserting client: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO authorization_codes
		   (client_id, code, state, redirect_uri, created_at, expires_at, used)
		 VALUES (?, ?, ?, ?, ?, ?, 0)`,
		code.ClientID, code.Code, code.State, code.RedirectURI,
		createdAt.UnixNano(), nullableTime(code.ExpiresAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			err = storage.ErrAuthorizationCodeExists
			return err
		}
		return fmt.Errorf("inserting authorization code: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.Debug("Saved authorization code",
		"client_id", code.ClientID,
		"code_prefix", util.SafeTruncate(code.Code, codeLogLength))
	return nil
}

// ClientAuthorizationCodesCount returns the number of codes held for a client
func (s *Store) ClientAuthorizationCodesCount(ctx context.Context, clientID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM authorization_codes WHERE client_id = ?`, clientID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting authorization codes: %w", err)
	}
	return count, nil
}

// ClientHasAuthorizationCode reports whether the client owns the code
func (s *Store) ClientHasAuthorizationCode(ctx context.Context, clientID, code string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM authorization_codes WHERE client_id = ? AND code = ?)`,
		clientID, code,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking authorization code: %w", err)
	}
	return exists, nil
}

// IsClientAuthorizationCodeUsed reports whether the code was already consumed
func (s *Store) IsClientAuthorizationCodeUsed(ctx context.Context, clientID, code string) (bool, error) {
	authCode, err := s.get(ctx, s.db, clientID, code)
	if err != nil {
		return false, err
	}
	return authCode.Used, nil
}

// MarkClientAuthorizationCodeAsUsed flags the code as consumed
func (s *Store) MarkClientAuthorizationCodeAsUsed(ctx context.Context, clientID, code string) (err error) {
	ctx, span := s.startStorageSpan(ctx, "mark_authorization_code_used")
	defer span.End()

	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "mark_authorization_code_used", err, startTime)
	}()

	res, err := s.db.ExecContext(ctx,
		`UPDATE authorization_codes SET used = 1 WHERE client_id = ? AND code = ?`,
		clientID, code,
	)
	if err != nil {
		return fmt.Errorf("marking authorization code used: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		err = storage.ErrAuthorizationCodeNotFound
		return err
	}
	return nil
}

// GetRedirectURI returns the redirect URI bound to the code
func (s *Store) GetRedirectURI(ctx context.Context, clientID, code string) (string, error) {
	authCode, err := s.get(ctx, s.db, clientID, code)
	if err != nil {
		return "", err
	}
	return authCode.RedirectURI, nil
}

// GetState returns the client state recorded with the code
func (s *Store) GetState(ctx context.Context, clientID, code string) (string, error) {
	authCode, err := s.get(ctx, s.db, clientID, code)
	if err != nil {
		return "", err
	}
	return authCode.State, nil
}

// AtomicCheckAndMarkAuthCodeUsed consumes the code inside a transaction.
// The conditional UPDATE only matches an unused, unexpired row, so at most one
// caller can flip it; everybody else is told why it did not match.
func (s *Store) AtomicCheckAndMarkAuthCodeUsed(ctx context.Context, clientID, code string) (result *storage.AuthorizationCode, err error) {
	ctx, span := s.startStorageSpan(ctx, "consume_authorization_code")
	defer span.End()

	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "consume_authorization_code", err, startTime)
	}()

	now := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	res, err := tx.ExecContext(ctx,
		`UPDATE authorization_codes SET used = 1
		 WHERE client_id = ? AND code = ? AND used = 0
		   AND (expires_at IS NULL OR expires_at >= ?)`,
		clientID, code, now.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("consuming authorization code: %w", err)
	}
	updated, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("reading affected rows: %w", err)
	}

	authCode, err := s.get(ctx, tx, clientID, code)
	if err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	if updated == 1 {
		s.logger.Debug("Marked authorization code as used",
			"client_id", clientID,
			"code_prefix", util.SafeTruncate(code, codeLogLength))
		return authCode, nil
	}

	switch {
	case authCode.Expired(now):
		err = storage.ErrAuthorizationCodeExpired
		return nil, err
	case authCode.Used:
		err = storage.ErrAuthorizationCodeUsed
		return authCode, err
	}
	err = fmt.Errorf("authorization code %s was not consumed", util.SafeTruncate(code, codeLogLength))
	return nil, err
}

// DeleteExpiredAuthorizationCodes purges codes past their expiry (with the
// clock skew grace period) and returns how many were removed. Clients are kept.
func (s *Store) DeleteExpiredAuthorizationCodes(ctx context.Context) (n int64, err error) {
	ctx, span := s.startStorageSpan(ctx, "delete_expired_authorization_codes")
	defer span.End()

	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "delete_expired_authorization_codes", err, startTime)
	}()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM authorization_codes WHERE expires_at IS NOT NULL AND expires_at < ?`,
		security.ExpiryCutoff().UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("deleting expired authorization codes: %w", err)
	}

	n, err = res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading affected rows: %w", err)
	}
	if n > 0 {
		s.logger.Debug("Cleaned up expired authorization codes", "count", n)
	}
	return n, nil
}

// queryRower is satisfied by *sql.DB and *sql.Tx
type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// get loads a single code record.
func (s *Store) get(ctx context.Context, q queryRower, clientID, code string) (*storage.AuthorizationCode, error) {
	var (
		authCode  = storage.AuthorizationCode{ClientID: clientID, Code: code}
		createdAt int64
		expiresAt sql.NullInt64
	)

	err := q.QueryRowContext(ctx,
		`SELECT state, redirect_uri, created_at, expires_at, used
		 FROM authorization_codes WHERE client_id = ? AND code = ?`,
		clientID, code,
	).Scan(&authCode.State, &authCode.RedirectURI, &createdAt, &expiresAt, &authCode.Used)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrAuthorizationCodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying authorization code: %w", err)
	}

	authCode.CreatedAt = time.Unix(0, createdAt)
	if expiresAt.Valid {
		authCode.ExpiresAt = time.Unix(0, expiresAt.Int64)
	}
	return &authCode, nil
}

// count runs a COUNT query for the size gauges; errors report -1.
func (s *Store) count(query string) int64 {
	ctx, cancel := context.WithTimeout(context.Background(), sizeQueryTimeout)
	defer cancel()

	var n int64
	if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		s.logger.Debug("Storage size query failed", "error", err)
		return -1
	}
	return n
}

// nullableTime maps the zero time to SQL NULL.
func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixNano()
}

// isUniqueViolation checks for a SQLite PRIMARY KEY or UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite3.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY || code == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

// rollback rolls back tx, ignoring errors (tx may already be committed).
func rollback(tx *sql.Tx) { _ = tx.Rollback() }

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
