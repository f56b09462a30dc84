package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/oauth2u/instrumentation"
)

// newTestViper returns a viper instance with every serve flag registered
// and parsed from args
func newTestViper(t *testing.T, args ...string) *viper.Viper {
	t.Helper()

	v := newViper()
	cmd := newServeCmd(v, BuildInfo{})
	if err := cmd.ParseFlags(args); err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}
	return v
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig(newTestViper(t))
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}

	if cfg.Address != defaultAddress {
		t.Errorf("Address = %q, want %q", cfg.Address, defaultAddress)
	}
	if cfg.Storage != StorageMemory {
		t.Errorf("Storage = %q, want %q", cfg.Storage, StorageMemory)
	}
	if cfg.CodeTTL != defaultCodeTTL {
		t.Errorf("CodeTTL = %v, want %v", cfg.CodeTTL, defaultCodeTTL)
	}
	if cfg.AccessTokenTTL != defaultAccessTokenTTL {
		t.Errorf("AccessTokenTTL = %v, want %v", cfg.AccessTokenTTL, defaultAccessTokenTTL)
	}
	if cfg.Metrics != instrumentation.ExporterNone {
		t.Errorf("Metrics = %q, want %q", cfg.Metrics, instrumentation.ExporterNone)
	}
	if cfg.LogLevel != defaultLogLevel || cfg.LogFormat != defaultLogFormat {
		t.Errorf("log = %s/%s, want %s/%s", cfg.LogLevel, cfg.LogFormat, defaultLogLevel, defaultLogFormat)
	}
	if cfg.RateLimit != 0 {
		t.Errorf("RateLimit = %v, want 0", cfg.RateLimit)
	}
}

func TestLoadConfig_Flags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "codes.db")
	v := newTestViper(t,
		"--address=127.0.0.1:9999",
		"--storage=sqlite",
		"--sqlite-path="+path,
		"--code-ttl=0",
		"--rate-limit=5",
		"--rate-burst=10",
		"--trust-proxy",
		"--metrics=prometheus",
	)

	cfg, err := loadConfig(v)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}

	if cfg.Address != "127.0.0.1:9999" {
		t.Errorf("Address = %q", cfg.Address)
	}
	if cfg.Storage != StorageSQLite || cfg.SQLitePath != path {
		t.Errorf("storage = %s %s", cfg.Storage, cfg.SQLitePath)
	}
	if cfg.CodeTTL != 0 {
		t.Errorf("CodeTTL = %v, want 0", cfg.CodeTTL)
	}
	if cfg.RateLimit != 5 || cfg.RateBurst != 10 {
		t.Errorf("rate = %v/%d, want 5/10", cfg.RateLimit, cfg.RateBurst)
	}
	if !cfg.TrustProxy {
		t.Error("TrustProxy should be set")
	}
	if cfg.Metrics != instrumentation.ExporterPrometheus {
		t.Errorf("Metrics = %q", cfg.Metrics)
	}
}

func TestLoadConfig_Environment(t *testing.T) {
	t.Setenv("OAUTH2U_CODE_TTL", "30s")
	t.Setenv("OAUTH2U_STORAGE", "valkey")
	t.Setenv("OAUTH2U_VALKEY_ADDRESS", "valkey:6379")
	t.Setenv("OAUTH2U_LOG_FORMAT", "json")

	cfg, err := loadConfig(newTestViper(t))
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}

	if cfg.CodeTTL != 30*time.Second {
		t.Errorf("CodeTTL = %v, want 30s", cfg.CodeTTL)
	}
	if cfg.Storage != StorageValkey || cfg.ValkeyAddress != "valkey:6379" {
		t.Errorf("storage = %s %s", cfg.Storage, cfg.ValkeyAddress)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, want json", cfg.LogFormat)
	}
}

func TestLoadConfig_File(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateFromPassword() error = %v", err)
	}

	path := filepath.Join(t.TempDir(), "oauth2u.yaml")
	content := "code-ttl: 5m\n" +
		"access-token-ttl: 2h\n" +
		"audit: true\n" +
		"clients:\n" +
		"  - id: client1\n" +
		"    secret_hash: \"" + string(hash) + "\"\n" +
		"  - id: Client-Mixed\n" +
		"    secret_hash: \"" + string(hash) + "\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	v := newTestViper(t)
	v.Set("config", path)
	if err := readConfigFile(v); err != nil {
		t.Fatalf("readConfigFile() error = %v", err)
	}

	cfg, err := loadConfig(v)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}

	if cfg.CodeTTL != 5*time.Minute {
		t.Errorf("CodeTTL = %v, want 5m", cfg.CodeTTL)
	}
	if cfg.AccessTokenTTL != 2*time.Hour {
		t.Errorf("AccessTokenTTL = %v, want 2h", cfg.AccessTokenTTL)
	}
	if !cfg.Audit {
		t.Error("Audit should be set")
	}
	if cfg.Clients["client1"] != string(hash) {
		t.Errorf("Clients[client1] = %q, want the hash", cfg.Clients["client1"])
	}
	if cfg.Clients["Client-Mixed"] != string(hash) {
		t.Errorf("Clients[Client-Mixed] = %q, want the hash (clients = %v)", cfg.Clients["Client-Mixed"], cfg.Clients)
	}
	if _, ok := cfg.Clients["client-mixed"]; ok {
		t.Error("client IDs must keep their case")
	}
}

func TestLoadConfig_InvalidClients(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "map form",
			content: "clients:\n  Client1: \"$2a$04$abc\"\n",
		},
		{
			name:    "missing id",
			content: "clients:\n  - secret_hash: \"$2a$04$abc\"\n",
		},
		{
			name:    "missing secret hash",
			content: "clients:\n  - id: client1\n",
		},
		{
			name:    "duplicate id",
			content: "clients:\n  - id: client1\n    secret_hash: a\n  - id: client1\n    secret_hash: b\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "oauth2u.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
				t.Fatalf("WriteFile() error = %v", err)
			}

			v := newTestViper(t)
			v.Set("config", path)
			if err := readConfigFile(v); err != nil {
				t.Fatalf("readConfigFile() error = %v", err)
			}

			if _, err := loadConfig(v); err == nil {
				t.Error("loadConfig() should reject the clients configuration")
			}
		})
	}
}

func TestReadConfigFile_Missing(t *testing.T) {
	v := newTestViper(t)
	v.Set("config", filepath.Join(t.TempDir(), "missing.yaml"))

	if err := readConfigFile(v); err == nil {
		t.Error("readConfigFile() should fail for a missing file")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "empty address", mutate: func(c *Config) { c.Address = "" }, wantErr: true},
		{name: "unknown storage", mutate: func(c *Config) { c.Storage = "postgres" }, wantErr: true},
		{name: "sqlite without path", mutate: func(c *Config) { c.Storage = StorageSQLite; c.SQLitePath = "" }, wantErr: true},
		{name: "valkey without address", mutate: func(c *Config) { c.Storage = StorageValkey; c.ValkeyAddress = "" }, wantErr: true},
		{name: "unknown metrics exporter", mutate: func(c *Config) { c.Metrics = "otlp" }, wantErr: true},
		{name: "negative code ttl", mutate: func(c *Config) { c.CodeTTL = -time.Second }, wantErr: true},
		{name: "zero code ttl", mutate: func(c *Config) { c.CodeTTL = 0 }},
		{name: "short access token ttl", mutate: func(c *Config) { c.AccessTokenTTL = time.Millisecond }, wantErr: true},
		{name: "short cleanup interval", mutate: func(c *Config) { c.Storage = StorageSQLite; c.CleanupInterval = 0 }, wantErr: true},
		{name: "negative rate limit", mutate: func(c *Config) { c.RateLimit = -1 }, wantErr: true},
		{name: "rate limit without burst", mutate: func(c *Config) { c.RateLimit = 1; c.RateBurst = 0 }, wantErr: true},
		{name: "short shutdown timeout", mutate: func(c *Config) { c.ShutdownTimeout = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)

			err := cfg.validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ServerConfig(t *testing.T) {
	tests := []struct {
		name        string
		codeTTL     time.Duration
		wantCodeTTL int64
	}{
		{name: "minutes", codeTTL: 10 * time.Minute, wantCodeTTL: 600},
		{name: "zero disables expiry", codeTTL: 0, wantCodeTTL: -1},
		{name: "sub-second rounds up", codeTTL: 500 * time.Millisecond, wantCodeTTL: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.CodeTTL = tt.codeTTL
			cfg.AccessTokenTTL = 90 * time.Second
			cfg.TrustProxy = true

			got := cfg.serverConfig()
			if got.AuthorizationCodeTTL != tt.wantCodeTTL {
				t.Errorf("AuthorizationCodeTTL = %d, want %d", got.AuthorizationCodeTTL, tt.wantCodeTTL)
			}
			if got.AccessTokenTTL != 90 {
				t.Errorf("AccessTokenTTL = %d, want 90", got.AccessTokenTTL)
			}
			if !got.TrustProxy {
				t.Error("TrustProxy not carried over")
			}
		})
	}
}
