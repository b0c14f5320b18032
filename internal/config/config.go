package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "VALENTINE"
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDatabasePath = "valentine.db"
	defaultDomain       = "localhost:5173"
	defaultCORSOrigins  = "http://localhost:5173"
	defaultRateLimit    = 10
	defaultPayloadMode  = "plain"
	defaultExpiresAt    = "2026-02-15T23:59:59Z"
	defaultLogLevel     = "info"
)

// PayloadMode selects which site payload variant a deployment accepts.
type PayloadMode string

const (
	// PayloadModePlain accepts the structured content-field payload.
	PayloadModePlain PayloadMode = "plain"
	// PayloadModeEncrypted accepts the opaque ciphertext payload.
	PayloadModeEncrypted PayloadMode = "encrypted"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress  string
	DatabasePath string
	Domain       string
	CORSOrigins  []string
	RateLimit    int
	PayloadMode  PayloadMode
	ExpiresAt    time.Time
	LogLevel     string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("site.domain", defaultDomain)
	configViper.SetDefault("site.expires_at", defaultExpiresAt)
	configViper.SetDefault("cors.origins", defaultCORSOrigins)
	configViper.SetDefault("ratelimit.per_hour", defaultRateLimit)
	configViper.SetDefault("payload.mode", defaultPayloadMode)
	configViper.SetDefault("log.level", defaultLogLevel)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	expiresAt, err := time.Parse(time.RFC3339, configViper.GetString("site.expires_at"))
	if err != nil {
		return AppConfig{}, fmt.Errorf("site.expires_at must be RFC3339: %w", err)
	}

	cfg := AppConfig{
		HTTPAddress:  configViper.GetString("http.address"),
		DatabasePath: configViper.GetString("database.path"),
		Domain:       configViper.GetString("site.domain"),
		CORSOrigins:  splitOrigins(configViper.GetString("cors.origins")),
		RateLimit:    configViper.GetInt("ratelimit.per_hour"),
		PayloadMode:  PayloadMode(strings.ToLower(strings.TrimSpace(configViper.GetString("payload.mode")))),
		ExpiresAt:    expiresAt,
		LogLevel:     configViper.GetString("log.level"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.Domain) == "" {
		return fmt.Errorf("site.domain is required")
	}
	if c.RateLimit <= 0 {
		return fmt.Errorf("ratelimit.per_hour must be positive")
	}
	if c.PayloadMode != PayloadModePlain && c.PayloadMode != PayloadModeEncrypted {
		return fmt.Errorf("payload.mode must be %q or %q", PayloadModePlain, PayloadModeEncrypted)
	}
	return nil
}

func splitOrigins(raw string) []string {
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
