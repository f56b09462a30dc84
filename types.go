package oauth2u

// ErrorResponse represents an OAuth error response
type ErrorResponse struct {
	// Error is the error code
	Error string `json:"error"`

	// ErrorDescription provides additional information, omitted when empty
	ErrorDescription string `json:"error_description,omitempty"`
}

// TokenResponse is the body of a successful access token response.
// Field order is the order of the keys on the wire.
type TokenResponse struct {
	// AccessToken is the issued access token
	AccessToken string `json:"access_token"`

	// ExpiresIn is the token lifetime in seconds
	ExpiresIn int64 `json:"expires_in"`
}
