package server

import (
	"fmt"
	"net/url"
	"strings"
)

// Supported protocol values
const (
	ResponseTypeCode           = "code"
	GrantTypeAuthorizationCode = "authorization_code"
)

// AuthorizeRequest holds the parameters of an authorization request
type AuthorizeRequest struct {
	ResponseType string
	ClientID     string
	RedirectURI  string
	State        string

	// ClientIP is used for auditing only
	ClientIP string
}

// TokenRequest holds the parameters of a token request. ClientID and Password
// come from the decoded Basic credentials.
type TokenRequest struct {
	GrantType   string
	Code        string
	RedirectURI string
	ClientID    string
	Password    string

	// ClientIP is used for auditing only
	ClientIP string
}

// ValidateAuthorizeRequest checks the request parameters in the order the
// endpoint reports them.
func ValidateAuthorizeRequest(req AuthorizeRequest) error {
	switch {
	case req.ResponseType == "":
		return invalidRequest("Parameter response_type is required")
	case req.ResponseType != ResponseTypeCode:
		return invalidRequest("Parameter response_type should be code")
	case req.ClientID == "":
		return invalidRequest("Parameter client_id is required")
	case req.RedirectURI == "":
		return invalidRequest("Missing argument redirect_uri")
	}

	if err := validateRedirectURI(req.RedirectURI); err != nil {
		return invalidRequest("Parameter redirect_uri is invalid")
	}
	return nil
}

// ValidateTokenRequest checks the form parameters of a token request. The
// Basic credentials are checked later, by the flow.
func ValidateTokenRequest(req TokenRequest) error {
	switch {
	case req.GrantType == "":
		return invalidRequest("Parameter grant_type is required")
	case req.GrantType != GrantTypeAuthorizationCode:
		return invalidRequest("Parameter grant_type should be authorization_code")
	case req.Code == "":
		return invalidRequest("Parameter code is required")
	case req.RedirectURI == "":
		return invalidRequest("Parameter redirect_uri is required")
	}
	return nil
}

// validateRedirectURI requires an absolute URI without a fragment
func validateRedirectURI(redirectURI string) error {
	parsed, err := url.Parse(redirectURI)
	if err != nil {
		return fmt.Errorf("invalid redirect_uri format: %w", err)
	}
	if !parsed.IsAbs() {
		return fmt.Errorf("redirect_uri must be an absolute URI")
	}
	// Redirect URIs MUST NOT contain fragments (RFC 6749 section 3.1.2)
	if parsed.Fragment != "" || strings.Contains(redirectURI, "#") {
		return fmt.Errorf("redirect_uri must not contain fragments")
	}
	return nil
}

// BuildRedirectLocation appends code (and state, when present) to
// redirectURI. The existing query string is kept byte for byte.
func BuildRedirectLocation(redirectURI, code, state string) string {
	var b strings.Builder
	b.WriteString(redirectURI)

	switch {
	case strings.HasSuffix(redirectURI, "?"), strings.HasSuffix(redirectURI, "&"):
	case strings.Contains(redirectURI, "?"):
		b.WriteByte('&')
	default:
		b.WriteByte('?')
	}

	b.WriteString("code=")
	b.WriteString(url.QueryEscape(code))
	if state != "" {
		b.WriteString("&state=")
		b.WriteString(url.QueryEscape(state))
	}
	return b.String()
}
