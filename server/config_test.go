package server

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestApplySecureDefaults(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		wantCode int64
		wantTok  int64
		wantMax  int
		wantPxy  int
	}{
		{
			name:     "empty config",
			config:   Config{},
			wantCode: 600,
			wantTok:  3600,
			wantMax:  3,
			wantPxy:  1,
		},
		{
			name:     "explicit values kept",
			config:   Config{AuthorizationCodeTTL: 30, AccessTokenTTL: 90, MaxCodeGenerationAttempts: 5, TrustedProxyCount: 2},
			wantCode: 30,
			wantTok:  90,
			wantMax:  5,
			wantPxy:  2,
		},
		{
			name:     "negative code ttl disables expiry",
			config:   Config{AuthorizationCodeTTL: -1},
			wantCode: -1,
			wantTok:  3600,
			wantMax:  3,
			wantPxy:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.config
			got := applySecureDefaults(&cfg, slog.New(slog.DiscardHandler))

			if cfg.AuthorizationCodeTTL != tt.config.AuthorizationCodeTTL ||
				cfg.AccessTokenTTL != tt.config.AccessTokenTTL ||
				cfg.MaxCodeGenerationAttempts != tt.config.MaxCodeGenerationAttempts ||
				cfg.TrustedProxyCount != tt.config.TrustedProxyCount {
				t.Errorf("input config was modified: %+v", cfg)
			}

			if got.AuthorizationCodeTTL != tt.wantCode {
				t.Errorf("AuthorizationCodeTTL = %d, want %d", got.AuthorizationCodeTTL, tt.wantCode)
			}
			if got.AccessTokenTTL != tt.wantTok {
				t.Errorf("AccessTokenTTL = %d, want %d", got.AccessTokenTTL, tt.wantTok)
			}
			if got.MaxCodeGenerationAttempts != tt.wantMax {
				t.Errorf("MaxCodeGenerationAttempts = %d, want %d", got.MaxCodeGenerationAttempts, tt.wantMax)
			}
			if got.TrustedProxyCount != tt.wantPxy {
				t.Errorf("TrustedProxyCount = %d, want %d", got.TrustedProxyCount, tt.wantPxy)
			}
		})
	}
}

func TestLogSecurityWarnings(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantLog string
	}{
		{name: "no expiry", config: Config{AuthorizationCodeTTL: -1}, wantLog: "never expire"},
		{name: "trust proxy", config: Config{AuthorizationCodeTTL: 600, TrustProxy: true}, wantLog: "Trusting proxy headers"},
		{name: "secure config", config: Config{AuthorizationCodeTTL: 600}, wantLog: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, nil))

			logSecurityWarnings(&tt.config, logger)

			if tt.wantLog == "" {
				if buf.Len() != 0 {
					t.Errorf("unexpected warning: %s", buf.String())
				}
				return
			}
			if !strings.Contains(buf.String(), tt.wantLog) {
				t.Errorf("log %q does not contain %q", buf.String(), tt.wantLog)
			}
		})
	}
}

func TestValidateConfig(t *testing.T) {
	hash, err := HashClientSecret("s3cret")
	if err != nil {
		t.Fatalf("HashClientSecret() error = %v", err)
	}

	tests := []struct {
		name    string
		secrets map[string]string
		wantErr bool
	}{
		{name: "no secrets", secrets: nil},
		{name: "bcrypt hash", secrets: map[string]string{"client1": hash}},
		{name: "plaintext secret", secrets: map[string]string{"client1": "s3cret"}, wantErr: true},
		{name: "empty client id", secrets: map[string]string{"": hash}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateConfig(&Config{ClientSecrets: tt.secrets})
			if (err != nil) != tt.wantErr {
				t.Errorf("validateConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
