package security

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSetSecurityHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/authorize", nil)

	SetSecurityHeaders(w, r, false)

	want := map[string]string{
		"X-Frame-Options":         "DENY",
		"X-Content-Type-Options":  "nosniff",
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
		"Referrer-Policy":         "no-referrer",
		"Cache-Control":           "no-store",
		"Pragma":                  "no-cache",
	}
	for header, value := range want {
		if got := w.Header().Get(header); got != value {
			t.Errorf("%s = %q, want %q", header, got, value)
		}
	}

	if got := w.Header().Get("Strict-Transport-Security"); got != "" {
		t.Errorf("Strict-Transport-Security = %q on plain HTTP, want empty", got)
	}
}

func TestSetSecurityHeaders_NilRequest(t *testing.T) {
	w := httptest.NewRecorder()

	SetSecurityHeaders(w, nil, true)

	if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want DENY", got)
	}
}

func TestIsHTTPS(t *testing.T) {
	tests := []struct {
		name       string
		tls        bool
		proto      string
		trustProxy bool
		want       bool
	}{
		{name: "plain http", want: false},
		{name: "direct TLS", tls: true, want: true},
		{name: "forwarded https trusted", proto: "https", trustProxy: true, want: true},
		{name: "forwarded HTTPS list trusted", proto: "HTTPS, http", trustProxy: true, want: true},
		{name: "forwarded https untrusted", proto: "https", trustProxy: false, want: false},
		{name: "forwarded http trusted", proto: "http", trustProxy: true, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/access-token", nil)
			if tt.tls {
				r.TLS = &tls.ConnectionState{}
			}
			if tt.proto != "" {
				r.Header.Set("X-Forwarded-Proto", tt.proto)
			}

			if got := IsHTTPS(r, tt.trustProxy); got != tt.want {
				t.Errorf("IsHTTPS() = %v, want %v", got, tt.want)
			}

			w := httptest.NewRecorder()
			SetSecurityHeaders(w, r, tt.trustProxy)
			gotHSTS := w.Header().Get("Strict-Transport-Security") == HSTSValue
			if gotHSTS != tt.want {
				t.Errorf("HSTS present = %v, want %v", gotHSTS, tt.want)
			}
		})
	}
}
