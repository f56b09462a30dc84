package app

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/giantswarm/oauth2u/instrumentation"
	"github.com/giantswarm/oauth2u/server"
	"github.com/giantswarm/oauth2u/storage/valkey"
)

// Storage backends accepted by --storage
const (
	StorageMemory = "memory"
	StorageSQLite = "sqlite"
	StorageValkey = "valkey"
)

const (
	defaultAddress          = ":8888"
	defaultSQLitePath       = "oauth2u.db"
	defaultValkeyAddress    = "localhost:6379"
	defaultCodeTTL          = 10 * time.Minute
	defaultAccessTokenTTL   = time.Hour
	defaultCleanupInterval  = time.Minute
	defaultRateBurst        = 20
	defaultShutdownTimeout  = 30 * time.Second
	defaultLogLevel         = "info"
	defaultLogFormat        = "text"
	defaultMetricsExporter  = instrumentation.ExporterNone
	minimumAccessTokenTTL   = time.Second
	minimumCleanupInterval  = time.Second
	minimumShutdownDuration = time.Second
)

// Config is the configuration of the serve command, read from flags,
// OAUTH2U_* environment variables and the optional config file.
type Config struct {
	Address string

	Storage        string
	SQLitePath     string
	ValkeyAddress  string
	ValkeyPassword string
	ValkeyDB       int
	ValkeyPrefix   string

	// CodeTTL is the authorization code lifetime; zero means codes never expire
	CodeTTL         time.Duration
	AccessTokenTTL  time.Duration
	CleanupInterval time.Duration

	// RateLimit is requests per second per client IP; zero disables limiting
	RateLimit  float64
	RateBurst  int
	TrustProxy bool

	Metrics string
	Audit   bool

	LogLevel  string
	LogFormat string

	ShutdownTimeout time.Duration

	// Clients maps client IDs to bcrypt secret hashes (config file key "clients")
	Clients map[string]string

	// Version is reported as the service version in telemetry
	Version string
}

// clientEntry is one item of the "clients" config list. A list is used
// instead of a map because viper lowercases map keys and client IDs are
// case sensitive.
type clientEntry struct {
	ID         string `mapstructure:"id"`
	SecretHash string `mapstructure:"secret_hash"`
}

// loadClients reads the "clients" list into a map keyed by client ID
func loadClients(v *viper.Viper) (map[string]string, error) {
	var entries []clientEntry
	if err := v.UnmarshalKey("clients", &entries); err != nil {
		return nil, fmt.Errorf("invalid clients configuration (want a list of id/secret_hash entries): %w", err)
	}

	clients := make(map[string]string, len(entries))
	for i, e := range entries {
		if e.ID == "" {
			return nil, fmt.Errorf("clients[%d]: id is required", i)
		}
		if e.SecretHash == "" {
			return nil, fmt.Errorf("client %q: secret_hash is required", e.ID)
		}
		if _, dup := clients[e.ID]; dup {
			return nil, fmt.Errorf("client %q is configured more than once", e.ID)
		}
		clients[e.ID] = e.SecretHash
	}
	return clients, nil
}

// loadConfig reads and validates the configuration
func loadConfig(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Address:         v.GetString("address"),
		Storage:         v.GetString("storage"),
		SQLitePath:      v.GetString("sqlite-path"),
		ValkeyAddress:   v.GetString("valkey-address"),
		ValkeyPassword:  v.GetString("valkey-password"),
		ValkeyDB:        v.GetInt("valkey-db"),
		ValkeyPrefix:    v.GetString("valkey-prefix"),
		CodeTTL:         v.GetDuration("code-ttl"),
		AccessTokenTTL:  v.GetDuration("access-token-ttl"),
		CleanupInterval: v.GetDuration("cleanup-interval"),
		RateLimit:       v.GetFloat64("rate-limit"),
		RateBurst:       v.GetInt("rate-burst"),
		TrustProxy:      v.GetBool("trust-proxy"),
		Metrics:         v.GetString("metrics"),
		Audit:           v.GetBool("audit"),
		LogLevel:        v.GetString("log-level"),
		LogFormat:       v.GetString("log-format"),
		ShutdownTimeout: v.GetDuration("shutdown-timeout"),
	}

	clients, err := loadClients(v)
	if err != nil {
		return nil, err
	}
	cfg.Clients = clients

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Address == "" {
		return fmt.Errorf("address is required")
	}

	switch c.Storage {
	case StorageMemory:
	case StorageSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("sqlite-path is required for sqlite storage")
		}
	case StorageValkey:
		if c.ValkeyAddress == "" {
			return fmt.Errorf("valkey-address is required for valkey storage")
		}
	default:
		return fmt.Errorf("unknown storage %q (want %s, %s or %s)", c.Storage, StorageMemory, StorageSQLite, StorageValkey)
	}

	switch c.Metrics {
	case instrumentation.ExporterNone, instrumentation.ExporterPrometheus:
	default:
		return fmt.Errorf("unknown metrics exporter %q (want %s or %s)", c.Metrics, instrumentation.ExporterPrometheus, instrumentation.ExporterNone)
	}

	if c.CodeTTL < 0 {
		return fmt.Errorf("code-ttl must not be negative")
	}
	if c.AccessTokenTTL < minimumAccessTokenTTL {
		return fmt.Errorf("access-token-ttl must be at least %s", minimumAccessTokenTTL)
	}
	if c.Storage == StorageSQLite && c.CleanupInterval < minimumCleanupInterval {
		return fmt.Errorf("cleanup-interval must be at least %s", minimumCleanupInterval)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate-limit must not be negative")
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		return fmt.Errorf("rate-burst must be at least 1 when rate limiting is enabled")
	}
	if c.ShutdownTimeout < minimumShutdownDuration {
		return fmt.Errorf("shutdown-timeout must be at least %s", minimumShutdownDuration)
	}

	return nil
}

// serverConfig converts the binary configuration into the server's
func (c *Config) serverConfig() *server.Config {
	// The server treats a negative TTL as "never expire"
	codeTTL := int64(-1)
	if c.CodeTTL > 0 {
		codeTTL = max(int64(c.CodeTTL/time.Second), 1)
	}

	return &server.Config{
		AuthorizationCodeTTL: codeTTL,
		AccessTokenTTL:       int64(c.AccessTokenTTL / time.Second),
		TrustProxy:           c.TrustProxy,
		ClientSecrets:        c.Clients,
	}
}

// valkeyConfig returns the valkey store configuration
func (c *Config) valkeyConfig() valkey.Config {
	return valkey.Config{
		Address:   c.ValkeyAddress,
		Password:  c.ValkeyPassword,
		DB:        c.ValkeyDB,
		KeyPrefix: c.ValkeyPrefix,
	}
}
