package config

import (
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DraftStorePostgres = "postgres"
	DraftStoreMemory   = "memory"
)

type Config struct {
	Port                    string        `mapstructure:"PORT"`
	Env                     string        `mapstructure:"ENV"`
	AuthMode                string        `mapstructure:"AUTH_MODE"`
	DatabaseURL             string        `mapstructure:"DATABASE_URL"`
	DBMaxConns              int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns              int32         `mapstructure:"DB_MIN_CONNS"`
	AuthIssuer              string        `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL             string        `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience            string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey          string        `mapstructure:"AUTH_SIGNING_KEY"`
	DefaultTenant           string        `mapstructure:"DEFAULT_TENANT"`
	CORSOrigins             []string      `mapstructure:"CORS_ORIGINS"`
	BackendAPIURL           string        `mapstructure:"BACKEND_API_URL"`
	BackendAPIKey           string        `mapstructure:"BACKEND_API_KEY"`
	BackendTimeout          time.Duration `mapstructure:"BACKEND_TIMEOUT"`
	StripeSecretKey         string        `mapstructure:"STRIPE_SECRET_KEY"`
	DraftStore              string        `mapstructure:"DRAFT_STORE"`
	DraftTTL                time.Duration `mapstructure:"DRAFT_TTL"`
	DraftEncryptionKey      string        `mapstructure:"DRAFT_ENCRYPTION_KEY"`
	DraftPreviousKeys       []string      `mapstructure:"DRAFT_ENCRYPTION_PREVIOUS_KEYS"`
	ContactTrackingDebounce time.Duration `mapstructure:"CONTACT_TRACKING_DEBOUNCE"`
	SessionIdleTimeout      time.Duration `mapstructure:"SESSION_IDLE_TIMEOUT"`
	RateLimitRPS            float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst          int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout          time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	TLSEnabled              bool          `mapstructure:"TLS_ENABLED"`
	TLSCertFile             string        `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile              string        `mapstructure:"TLS_KEY_FILE"`
}

var keys = []string{
	"PORT", "ENV", "AUTH_MODE", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	"DEFAULT_TENANT", "CORS_ORIGINS", "BACKEND_API_URL", "BACKEND_API_KEY",
	"BACKEND_TIMEOUT", "STRIPE_SECRET_KEY", "DRAFT_STORE", "DRAFT_TTL",
	"DRAFT_ENCRYPTION_KEY", "DRAFT_ENCRYPTION_PREVIOUS_KEYS", "CONTACT_TRACKING_DEBOUNCE", "SESSION_IDLE_TIMEOUT",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT",
	"TLS_ENABLED", "TLS_CERT_FILE", "TLS_KEY_FILE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTH_MODE", "") // auto-detect: "" -> inferred from ENV
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("BACKEND_TIMEOUT", "15s")
	v.SetDefault("DRAFT_STORE", DraftStorePostgres)
	v.SetDefault("DRAFT_TTL", "168h")
	v.SetDefault("CONTACT_TRACKING_DEBOUNCE", "1500ms")
	v.SetDefault("SESSION_IDLE_TIMEOUT", "2h")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("REQUEST_TIMEOUT", "60s")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DraftPreviousKeys == nil {
		if prev := v.GetString("DRAFT_ENCRYPTION_PREVIOUS_KEYS"); prev != "" {
			cfg.DraftPreviousKeys = strings.Split(prev, ",")
		}
	}

	if cfg.DraftStore == DraftStorePostgres && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Printf("WARNING: ENV=development: unauthenticated requests act as dev-user with the admin role")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns the effective auth mode. If AUTH_MODE is explicitly
// set, it is returned. Otherwise ENV=development yields "development" and
// anything else "external".
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	return "external"
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	mode := c.ResolvedAuthMode()
	if mode != "development" && mode != "external" {
		return fmt.Errorf("AUTH_MODE must be \"development\" or \"external\", got %q", mode)
	}
	if mode == "external" && c.AuthIssuer == "" && c.AuthJWKSURL == "" && c.AuthSigningKey == "" {
		return fmt.Errorf(
			"AUTH_ISSUER, AUTH_JWKS_URL or AUTH_SIGNING_KEY must be set when AUTH_MODE is \"external\" (current ENV=%q)", c.Env)
	}
	if c.IsProduction() && c.AuthSigningKey != "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is for development only and must not be set in production")
	}

	if c.BackendAPIURL == "" {
		return fmt.Errorf("BACKEND_API_URL is required")
	}

	switch c.DraftStore {
	case DraftStorePostgres, DraftStoreMemory:
	default:
		return fmt.Errorf("DRAFT_STORE must be %q or %q, got %q", DraftStorePostgres, DraftStoreMemory, c.DraftStore)
	}
	if c.DraftTTL <= 0 {
		return fmt.Errorf("DRAFT_TTL must be positive")
	}

	if c.IsProduction() && c.DraftStore == DraftStorePostgres && c.DraftEncryptionKey == "" {
		return fmt.Errorf("DRAFT_ENCRYPTION_KEY is required in production")
	}
	if c.DraftEncryptionKey != "" {
		keyBytes, err := hex.DecodeString(c.DraftEncryptionKey)
		if err != nil {
			return fmt.Errorf("DRAFT_ENCRYPTION_KEY is not valid hex: %w", err)
		}
		if len(keyBytes) != 32 {
			return fmt.Errorf("DRAFT_ENCRYPTION_KEY must be 32 bytes (64 hex chars), got %d bytes", len(keyBytes))
		}
	}

	if c.IsProduction() && c.StripeSecretKey == "" {
		return fmt.Errorf("STRIPE_SECRET_KEY is required in production")
	}

	// TLS validation: when TLS is enabled, cert and key files must be specified.
	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}
