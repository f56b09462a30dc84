// Package storage defines the interface for persisting authorization codes.
// It supports various backend implementations including in-memory, SQLite and Valkey.
package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by every CodeStore implementation.
// Callers should compare with errors.Is since implementations may wrap them.
var (
	// ErrClientNotFound is returned when no code was ever saved for a client
	ErrClientNotFound = errors.New("client not found")

	// ErrAuthorizationCodeNotFound is returned when (client_id, code) is unknown
	ErrAuthorizationCodeNotFound = errors.New("authorization code not found")

	// ErrAuthorizationCodeExists is returned when saving a code that already exists for the client
	ErrAuthorizationCodeExists = errors.New("authorization code already exists")

	// ErrAuthorizationCodeUsed is returned when a code has already been exchanged
	ErrAuthorizationCodeUsed = errors.New("authorization code already used")

	// ErrAuthorizationCodeExpired is returned when a code is past its expiry
	ErrAuthorizationCodeExpired = errors.New("authorization code expired")
)

// CodeStore defines the interface for storing and retrieving authorization codes.
// This allows using in-memory, SQLite, Valkey, or other storage backends.
//
// Every operation is keyed on the pair (clientID, code). A code saved for one
// client is never visible through another client's lookups.
// All methods accept context.Context for tracing and cancellation.
type CodeStore interface {
	// FindClient returns the client if any code has ever been saved for it,
	// or ErrClientNotFound.
	FindClient(ctx context.Context, clientID string) (*Client, error)

	// SaveNewAuthorizationCode inserts a new code record. Returns
	// ErrAuthorizationCodeExists if the code is already known for the client;
	// existing records are never overwritten.
	SaveNewAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// ClientAuthorizationCodesCount counts the client's codes, used and unused.
	ClientAuthorizationCodesCount(ctx context.Context, clientID string) (int, error)

	// ClientHasAuthorizationCode reports whether the code exists for the client.
	ClientHasAuthorizationCode(ctx context.Context, clientID, code string) (bool, error)

	// IsClientAuthorizationCodeUsed reports whether the code was consumed.
	// Returns ErrAuthorizationCodeNotFound for unknown codes.
	IsClientAuthorizationCodeUsed(ctx context.Context, clientID, code string) (bool, error)

	// MarkClientAuthorizationCodeAsUsed flags the code as consumed. Marking an
	// already used code is a no-op. Returns ErrAuthorizationCodeNotFound for unknown codes.
	MarkClientAuthorizationCodeAsUsed(ctx context.Context, clientID, code string) error

	// GetRedirectURI returns the redirect URI recorded when the code was issued.
	GetRedirectURI(ctx context.Context, clientID, code string) (string, error)

	// GetState returns the state recorded when the code was issued.
	GetState(ctx context.Context, clientID, code string) (string, error)

	// AtomicCheckAndMarkAuthCodeUsed atomically checks that a code is unused and marks it as used.
	// Returns a copy of the code if successful, or an error if:
	// - Code not found (ErrAuthorizationCodeNotFound)
	// - Code expired (ErrAuthorizationCodeExpired)
	// - Code already used (ErrAuthorizationCodeUsed, the record is returned as well)
	// SECURITY: This operation MUST be atomic so that concurrent exchanges of
	// the same code issue at most one token.
	AtomicCheckAndMarkAuthCodeUsed(ctx context.Context, clientID, code string) (*AuthorizationCode, error)
}

// Client is a client that has been issued at least one authorization code.
// Clients are created implicitly by the first code save.
type Client struct {
	ClientID  string
	CreatedAt time.Time
}

// AuthorizationCode represents an issued authorization code
type AuthorizationCode struct {
	Code        string
	ClientID    string
	State       string // opaque, echoed back to the client
	RedirectURI string // authoritative for the token exchange
	CreatedAt   time.Time
	ExpiresAt   time.Time // zero means the code never expires
	Used        bool
}

// Expired reports whether the code is past its expiry at the given time.
func (c *AuthorizationCode) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// Validate checks the fields every backend requires before saving.
func (c *AuthorizationCode) Validate() error {
	switch {
	case c == nil:
		return errors.New("invalid authorization code: nil")
	case c.Code == "":
		return errors.New("invalid authorization code: empty code")
	case c.ClientID == "":
		return errors.New("invalid authorization code: empty client id")
	}
	return nil
}
