package security

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestGenerateRequestID(t *testing.T) {
	id1 := GenerateRequestID()
	id2 := GenerateRequestID()

	if id1 == id2 {
		t.Error("Expected unique request IDs")
	}
	if _, err := uuid.Parse(id1); err != nil {
		t.Errorf("GenerateRequestID() = %q is not a UUID: %v", id1, err)
	}
	if !isValidRequestID(id1) {
		t.Errorf("generated ID %q fails our own validation", id1)
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-123")

	if got := GetRequestID(ctx); got != "req-123" {
		t.Errorf("GetRequestID() = %q, want %q", got, "req-123")
	}
	if got := GetRequestID(context.Background()); got != "" {
		t.Errorf("GetRequestID() on empty context = %q, want empty", got)
	}
}

func TestIsValidRequestID(t *testing.T) {
	tests := []struct {
		name      string
		requestID string
		valid     bool
	}{
		{"alphanumeric", "abc123", true},
		{"uuid", "0b6a4b1e-7c1b-4c2f-9a53-6a5d0c3f2e11", true},
		{"underscores", "req_id_42", true},
		{"max length", strings.Repeat("a", 128), true},
		{"empty", "", false},
		{"too long", strings.Repeat("a", 129), false},
		{"CRLF injection", "id\r\nX-Injected: evil", false},
		{"spaces", "id with spaces", false},
		{"markup", "<script>alert(1)</script>", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isValidRequestID(tt.requestID); got != tt.valid {
				t.Errorf("isValidRequestID(%q) = %v, want %v", tt.requestID, got, tt.valid)
			}
		})
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		existingHeader string
		expectNew      bool
	}{
		{"generates new ID when not present", "", true},
		{"preserves valid upstream ID", "upstream-request-id-xyz", false},
		{"replaces ID with spaces", "id with spaces", true},
		{"replaces markup", "<script>alert(1)</script>", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var captured string
			handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				captured = GetRequestID(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/authorize", nil)
			if tt.existingHeader != "" {
				req.Header.Set(RequestIDHeader, tt.existingHeader)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if captured == "" {
				t.Fatal("request ID missing from context")
			}
			if got := rec.Header().Get(RequestIDHeader); got != captured {
				t.Errorf("response header = %q, context = %q", got, captured)
			}
			if tt.expectNew && captured == tt.existingHeader {
				t.Errorf("expected a fresh ID, got upstream %q", captured)
			}
			if !tt.expectNew && captured != tt.existingHeader {
				t.Errorf("request ID = %q, want upstream %q", captured, tt.existingHeader)
			}
		})
	}
}

func TestEnsureRequestID_KeepsContextID(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/access-token", nil)
	req = req.WithContext(WithRequestID(req.Context(), "from-middleware"))
	req.Header.Set(RequestIDHeader, "from-header")
	rec := httptest.NewRecorder()

	out := EnsureRequestID(rec, req)

	if got := GetRequestID(out.Context()); got != "from-middleware" {
		t.Errorf("GetRequestID() = %q, want %q", got, "from-middleware")
	}
	if got := rec.Header().Get(RequestIDHeader); got != "from-middleware" {
		t.Errorf("response header = %q, want %q", got, "from-middleware")
	}
}
