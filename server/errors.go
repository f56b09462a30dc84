package server

import (
	"errors"
	"net/http"
)

// OAuth 2.0 error codes from RFC 6749.
// The root package carries the same values; they are repeated here because
// the root package imports server.
const (
	ErrorCodeInvalidRequest       = "invalid_request"
	ErrorCodeInvalidClient        = "invalid_client"
	ErrorCodeInvalidGrant         = "invalid_grant"
	ErrorCodeUnsupportedGrantType = "unsupported_grant_type"
	ErrorCodeServerError          = "server_error"
)

// ProtocolError is a failure the client caused. The handler writes it to the
// response as is; any other error from this package is an internal fault.
type ProtocolError struct {
	Code        string
	Description string
	Status      int
}

func (e *ProtocolError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return e.Code + ": " + e.Description
}

// AsProtocolError returns the ProtocolError wrapped by err, if any.
func AsProtocolError(err error) (*ProtocolError, bool) {
	var perr *ProtocolError
	if errors.As(err, &perr) {
		return perr, true
	}
	return nil, false
}

func invalidRequest(description string) *ProtocolError {
	return &ProtocolError{Code: ErrorCodeInvalidRequest, Description: description, Status: http.StatusBadRequest}
}

// invalidGrant carries no description: the client learns nothing about why a code was refused.
func invalidGrant() *ProtocolError {
	return &ProtocolError{Code: ErrorCodeInvalidGrant, Status: http.StatusBadRequest}
}

func invalidClient() *ProtocolError {
	return &ProtocolError{Code: ErrorCodeInvalidClient, Description: "Client authentication failed", Status: http.StatusUnauthorized}
}
