package server

import (
	"context"

	"golang.org/x/oauth2"
)

// TokenGenerator produces authorization codes and access tokens.
// Implementations must be safe for concurrent use.
//
// Codes must be unique per client. A code the client already holds is never
// overwritten: Authorize asks for a new one up to
// Config.MaxCodeGenerationAttempts times and then fails with server_error.
// A generator that always returns the same code can therefore serve only
// one authorization per client.
type TokenGenerator interface {
	// GenerateAuthorizationCode returns a new code for clientID
	GenerateAuthorizationCode(ctx context.Context, clientID string) (string, error)

	// GenerateAccessToken returns a new access token and its lifetime in seconds
	GenerateAccessToken(ctx context.Context, clientID string) (token string, expiresIn int64, err error)
}

// RandomTokenGenerator issues 32 random bytes, base64url encoded, for both codes and tokens.
type RandomTokenGenerator struct {
	// AccessTokenTTL is reported as expires_in
	AccessTokenTTL int64
}

// GenerateAuthorizationCode returns a random code
func (g RandomTokenGenerator) GenerateAuthorizationCode(context.Context, string) (string, error) {
	return generateRandomToken(), nil
}

// GenerateAccessToken returns a random access token
func (g RandomTokenGenerator) GenerateAccessToken(context.Context, string) (string, int64, error) {
	return generateRandomToken(), g.AccessTokenTTL, nil
}

// GeneratorFuncs adapts two functions to a TokenGenerator. A nil function
// falls back to Fallback, or to a RandomTokenGenerator with a one hour TTL.
type GeneratorFuncs struct {
	AuthorizationCode func(ctx context.Context, clientID string) (string, error)
	AccessToken       func(ctx context.Context, clientID string) (string, int64, error)
	Fallback          TokenGenerator
}

// GenerateAuthorizationCode calls AuthorizationCode
func (g GeneratorFuncs) GenerateAuthorizationCode(ctx context.Context, clientID string) (string, error) {
	if g.AuthorizationCode == nil {
		return g.fallback().GenerateAuthorizationCode(ctx, clientID)
	}
	return g.AuthorizationCode(ctx, clientID)
}

// GenerateAccessToken calls AccessToken
func (g GeneratorFuncs) GenerateAccessToken(ctx context.Context, clientID string) (string, int64, error) {
	if g.AccessToken == nil {
		return g.fallback().GenerateAccessToken(ctx, clientID)
	}
	return g.AccessToken(ctx, clientID)
}

func (g GeneratorFuncs) fallback() TokenGenerator {
	if g.Fallback != nil {
		return g.Fallback
	}
	return RandomTokenGenerator{AccessTokenTTL: 3600}
}

// generateRandomToken generates a cryptographically secure random token.
// oauth2.GenerateVerifier yields a URL-safe, base64-encoded 32 byte value.
func generateRandomToken() string {
	return oauth2.GenerateVerifier()
}
