package server

import (
	"fmt"
	"log/slog"
	"maps"

	"golang.org/x/crypto/bcrypt"
)

// Config holds OAuth server configuration
type Config struct {
	// AuthorizationCodeTTL is how long authorization codes are valid.
	// Negative values disable expiry.
	AuthorizationCodeTTL int64 // seconds, default: 600 (10 minutes)

	// AccessTokenTTL is the expires_in reported by the default token generator
	AccessTokenTTL int64 // seconds, default: 3600 (1 hour)

	// MaxCodeGenerationAttempts bounds retries when a generated code collides
	// with an existing one for the same client
	MaxCodeGenerationAttempts int // default: 3

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers
	// WARNING: Only enable if behind a trusted reverse proxy (nginx, HAProxy, etc.)
	// Default: false
	TrustProxy bool

	// TrustedProxyCount is the number of trusted proxies in front of this server
	// Used with TrustProxy to correctly extract client IP from X-Forwarded-For
	// Default: 1
	TrustedProxyCount int

	// ClientSecrets maps client IDs to bcrypt hashes of their secrets.
	// Clients listed here must present their secret as the Basic password;
	// all other clients use the code itself as the password.
	ClientSecrets map[string]string
}

// applySecureDefaults returns a copy of config with unset values filled in
// and warns about risky settings. The caller's Config is left untouched.
func applySecureDefaults(in *Config, logger *slog.Logger) *Config {
	c := *in
	c.ClientSecrets = maps.Clone(in.ClientSecrets)
	config := &c

	if config.AuthorizationCodeTTL == 0 {
		config.AuthorizationCodeTTL = 600
	}
	if config.AccessTokenTTL <= 0 {
		config.AccessTokenTTL = 3600
	}
	if config.MaxCodeGenerationAttempts <= 0 {
		config.MaxCodeGenerationAttempts = 3
	}
	if config.TrustedProxyCount <= 0 {
		config.TrustedProxyCount = 1
	}

	logSecurityWarnings(config, logger)
	return config
}

// logSecurityWarnings logs warnings for insecure configuration settings
func logSecurityWarnings(config *Config, logger *slog.Logger) {
	if config.AuthorizationCodeTTL < 0 {
		logger.Warn("SECURITY WARNING: authorization codes never expire",
			"risk", "Leaked codes stay exchangeable until used",
			"recommendation", "Set AuthorizationCodeTTL to a few minutes")
	}
	if config.TrustProxy {
		logger.Warn("SECURITY NOTICE: Trusting proxy headers",
			"risk", "IP spoofing if proxy is not properly configured",
			"recommendation", "Only enable behind trusted reverse proxies",
			"config", "TrustedProxyCount should match your proxy chain length")
	}
}

// validateConfig rejects client secrets that are not bcrypt hashes
func validateConfig(config *Config) error {
	for clientID, hash := range config.ClientSecrets {
		if clientID == "" {
			return fmt.Errorf("client secret configured for empty client id")
		}
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return fmt.Errorf("client %q: secret is not a bcrypt hash: %w", clientID, err)
		}
	}
	return nil
}
