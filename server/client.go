package server

import (
	"context"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Client authentication method labels, used in metrics
const (
	ClientAuthMethodSecret = "client_secret_basic"
	ClientAuthMethodCode   = "code_as_secret"
)

// ClientAuthenticator checks the Basic credentials of a token request.
// It returns a *ProtocolError when the credentials are refused.
type ClientAuthenticator interface {
	AuthenticateClient(ctx context.Context, clientID, password, code string) error
}

// SecretAuthenticator authenticates clients against bcrypt hashed secrets.
// Clients without a configured secret must present the authorization code
// itself as the password.
type SecretAuthenticator struct {
	// Secrets maps client IDs to bcrypt hashes
	Secrets map[string]string
}

// AuthenticateClient implements ClientAuthenticator
func (a SecretAuthenticator) AuthenticateClient(_ context.Context, clientID, password, code string) error {
	if hash, ok := a.Secrets[clientID]; ok {
		// bcrypt comparison is constant time
		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
			return invalidClient()
		}
		return nil
	}

	if subtle.ConstantTimeCompare([]byte(password), []byte(code)) != 1 {
		return invalidGrant()
	}
	return nil
}

// Method reports which authentication method applies to clientID
func (a SecretAuthenticator) Method(clientID string) string {
	if _, ok := a.Secrets[clientID]; ok {
		return ClientAuthMethodSecret
	}
	return ClientAuthMethodCode
}

// HashClientSecret returns a bcrypt hash suitable for Config.ClientSecrets
func HashClientSecret(secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("secret must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash client secret: %w", err)
	}
	return string(hash), nil
}
