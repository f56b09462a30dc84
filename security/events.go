package security

// Event type constants for security audit logging.
const (
	// Authorization flow events

	// EventAuthorizationCodeIssued is logged when an authorization code is issued
	EventAuthorizationCodeIssued = "authorization_code_issued"

	// EventAuthorizationCodeReuseDetected is logged when an already exchanged code is presented again
	EventAuthorizationCodeReuseDetected = "authorization_code_reuse_detected"

	// EventInvalidRedirect is logged when a redirect URI is rejected or does not match the code
	EventInvalidRedirect = "invalid_redirect"

	// Token events

	// EventTokenIssued is logged when an access token is issued to a client
	EventTokenIssued = "token_issued"

	// Security violation events

	// EventAuthFailure is logged when a token exchange fails (unknown, expired or mismatched code)
	EventAuthFailure = "auth_failure"

	// EventClientAuthFailure is logged when a client presents a wrong secret
	EventClientAuthFailure = "client_auth_failure"

	// EventRateLimitExceeded is logged when a rate limit is exceeded
	EventRateLimitExceeded = "rate_limit_exceeded"
)
