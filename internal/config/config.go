package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/viper"
)

type Config struct {
	Port           string   `mapstructure:"PORT"`
	Env            string   `mapstructure:"ENV"`
	LogLevel       string   `mapstructure:"LOG_LEVEL"`
	DatabaseURL    string   `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32    `mapstructure:"DB_MIN_CONNS"`
	AuthIssuer     string   `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL    string   `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience   string   `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string   `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`
	BodyLimit      string   `mapstructure:"BODY_LIMIT"`

	SessionTTL       time.Duration `mapstructure:"SIGNALING_SESSION_TTL"`
	SweepInterval    time.Duration `mapstructure:"SIGNALING_SWEEP_INTERVAL"`
	ValidatePayloads bool          `mapstructure:"SIGNALING_VALIDATE_PAYLOADS"`

	ICEServersJSON string `mapstructure:"ICE_SERVERS_JSON"`
	STUNURLs       string `mapstructure:"STUN_URLS"`
	TURNURLs       string `mapstructure:"TURN_URLS"`
	TURNUsername   string `mapstructure:"TURN_USERNAME"`
	TURNCredential string `mapstructure:"TURN_CREDENTIAL"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("BODY_LIMIT", "256K")
	v.SetDefault("SIGNALING_SESSION_TTL", "30m")
	v.SetDefault("SIGNALING_SWEEP_INTERVAL", "1m")
	v.SetDefault("SIGNALING_VALIDATE_PAYLOADS", false)
	v.SetDefault("STUN_URLS", "stun:stun.l.google.com:19302")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "LOG_LEVEL",
		"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
		"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
		"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "BODY_LIMIT",
		"SIGNALING_SESSION_TTL", "SIGNALING_SWEEP_INTERVAL", "SIGNALING_VALIDATE_PAYLOADS",
		"ICE_SERVERS_JSON", "STUN_URLS", "TURN_URLS", "TURN_USERNAME", "TURN_CREDENTIAL",
	} {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = splitCommaSeparated(cfg.CORSOrigins[0])
	}
	if cfg.CORSOrigins == nil {
		cfg.CORSOrigins = splitCommaSeparated(v.GetString("CORS_ORIGINS"))
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

// AuthConfigured reports whether bearer tokens can be validated.
func (c *Config) AuthConfigured() bool {
	return c.AuthSigningKey != "" || c.AuthJWKSURL != "" || c.AuthIssuer != ""
}

// SigningKey decodes AUTH_SIGNING_KEY. It returns nil when the key is unset.
func (c *Config) SigningKey() ([]byte, error) {
	if c.AuthSigningKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.AuthSigningKey)
	if err != nil {
		return nil, fmt.Errorf("AUTH_SIGNING_KEY is not valid hex: %w", err)
	}
	if len(key) < 32 {
		return nil, fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes (64 hex chars), got %d bytes", len(key))
	}
	return key, nil
}

// ICEServers returns the STUN/TURN servers handed to clients. ICE_SERVERS_JSON
// takes precedence over the STUN_URLS/TURN_* convenience variables.
func (c *Config) ICEServers() ([]webrtc.ICEServer, error) {
	return parseICEServersFromValues(c.ICEServersJSON, c.STUNURLs, c.TURNURLs, c.TURNUsername, c.TURNCredential)
}

// Validate checks that the configuration is safe to run. Outside development
// a token validation source and DATABASE_URL must be set.
func (c *Config) Validate() error {
	if !c.IsDev() {
		if !c.AuthConfigured() {
			return fmt.Errorf(
				"one of AUTH_ISSUER, AUTH_JWKS_URL or AUTH_SIGNING_KEY must be set when ENV=%q. "+
					"Refusing to start without authentication configuration", c.Env)
		}
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when ENV=%q", c.Env)
		}
	}

	if _, err := c.SigningKey(); err != nil {
		return err
	}

	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) must not exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}

	if c.SessionTTL < 0 {
		return fmt.Errorf("SIGNALING_SESSION_TTL must not be negative, got %s", c.SessionTTL)
	}
	if c.SessionTTL > 0 && c.SweepInterval <= 0 {
		return fmt.Errorf("SIGNALING_SWEEP_INTERVAL must be positive when SIGNALING_SESSION_TTL is set, got %s", c.SweepInterval)
	}

	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}

	if _, err := c.ICEServers(); err != nil {
		return fmt.Errorf("ICE server configuration: %w", err)
	}

	return nil
}
