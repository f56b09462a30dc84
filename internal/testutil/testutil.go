package testutil

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// Fixed values issued by StubGenerator
const (
	StubAuthorizationCode = "123-abc"
	StubAccessToken       = "321-access-token"
	StubExpiresIn         = int64(3600)
)

// FormContentType is the Content-Type token requests are sent with
const FormContentType = "application/x-www-form-urlencoded;charset=UTF-8"

// StubGenerator is a token generator returning fixed values. It satisfies
// server.TokenGenerator without importing the server package.
type StubGenerator struct {
	mu    sync.Mutex
	codes []string // returned in order; the last one repeats

	Code        string
	AccessToken string
	ExpiresIn   int64
}

// NewStubGenerator returns a generator issuing "123-abc" and "321-access-token".
func NewStubGenerator() *StubGenerator {
	return &StubGenerator{
		Code:        StubAuthorizationCode,
		AccessToken: StubAccessToken,
		ExpiresIn:   StubExpiresIn,
	}
}

// WithCodes makes the generator return codes in order before falling back to Code
func (g *StubGenerator) WithCodes(codes ...string) *StubGenerator {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.codes = append(g.codes, codes...)
	return g
}

// GenerateAuthorizationCode returns the next queued code, or Code
func (g *StubGenerator) GenerateAuthorizationCode(context.Context, string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.codes) > 0 {
		code := g.codes[0]
		g.codes = g.codes[1:]
		return code, nil
	}
	return g.Code, nil
}

// GenerateAccessToken returns AccessToken and ExpiresIn
func (g *StubGenerator) GenerateAccessToken(context.Context, string) (string, int64, error) {
	return g.AccessToken, g.ExpiresIn, nil
}

// BasicAuth returns the value of an Authorization header for the credentials
func BasicAuth(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}

// AssertNoError fails the test if err is not nil
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertEqual fails the test if got != want
func AssertEqual(t *testing.T, got, want any) {
	t.Helper()
	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

// AssertTimeEqual asserts two times are equal within a tolerance
func AssertTimeEqual(t *testing.T, got, want time.Time, tolerance time.Duration) {
	t.Helper()
	diff := got.Sub(want)
	if diff < 0 {
		diff = -diff
	}
	if diff > tolerance {
		t.Errorf("time mismatch: got %v, want %v (tolerance: %v, diff: %v)", got, want, tolerance, diff)
	}
}

// HTTPRequest is a helper for making test HTTP requests
type HTTPRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    string
}

// NewHTTPRequest creates a new HTTP request helper
func NewHTTPRequest(method, url string) *HTTPRequest {
	return &HTTPRequest{
		Method:  method,
		URL:     url,
		Headers: make(map[string]string),
	}
}

// NewTokenRequest returns a POST with the form Content-Type and Basic credentials set
func NewTokenRequest(url, clientID, password, body string) *HTTPRequest {
	return NewHTTPRequest(http.MethodPost, url).
		WithHeader("Content-Type", FormContentType).
		WithHeader("Authorization", BasicAuth(clientID, password)).
		WithBody(body)
}

// WithHeader adds a header to the request
func (r *HTTPRequest) WithHeader(key, value string) *HTTPRequest {
	r.Headers[key] = value
	return r
}

// WithoutHeader removes a header from the request
func (r *HTTPRequest) WithoutHeader(key string) *HTTPRequest {
	delete(r.Headers, key)
	return r
}

// WithBody sets the request body
func (r *HTTPRequest) WithBody(body string) *HTTPRequest {
	r.Body = body
	return r
}

// Do executes the HTTP request
func (r *HTTPRequest) Do(handler http.Handler) *httptest.ResponseRecorder {
	var body io.Reader
	if r.Body != "" {
		body = strings.NewReader(r.Body)
	}
	req := httptest.NewRequest(r.Method, r.URL, body)
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}
