package security

import (
	"context"
	"net/http"
	"regexp"

	"github.com/google/uuid"
)

// requestIDContextKey is the context key for storing request IDs
type requestIDContextKey struct{}

// RequestIDHeader is the HTTP header for request IDs
const RequestIDHeader = "X-Request-ID"

// requestIDPattern restricts upstream request IDs to header-safe characters
// (alphanumeric, hyphens, underscores; 1-128 chars).
var requestIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,128}$`)

// GenerateRequestID returns a new random (version 4) UUID.
func GenerateRequestID() string {
	return uuid.NewString()
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDContextKey{}, requestID)
}

// GetRequestID retrieves the request ID from the context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(requestIDContextKey{}).(string); ok {
		return requestID
	}
	return ""
}

// isValidRequestID rejects IDs that could inject headers (CRLF) or bloat logs.
func isValidRequestID(requestID string) bool {
	return requestIDPattern.MatchString(requestID)
}

// EnsureRequestID makes sure the request carries a request ID in its context
// and the response echoes it. An ID already in the context wins, then a valid
// upstream X-Request-ID header, then a freshly generated one.
func EnsureRequestID(w http.ResponseWriter, r *http.Request) *http.Request {
	if requestID := GetRequestID(r.Context()); requestID != "" {
		w.Header().Set(RequestIDHeader, requestID)
		return r
	}

	requestID := r.Header.Get(RequestIDHeader)
	if !isValidRequestID(requestID) {
		requestID = GenerateRequestID()
	}

	w.Header().Set(RequestIDHeader, requestID)
	return r.WithContext(WithRequestID(r.Context(), requestID))
}

// RequestIDMiddleware is HTTP middleware that generates and propagates request IDs.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, EnsureRequestID(w, r))
	})
}
