// Package config holds the runtime settings of vipledgerd.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	defaultDatabaseURL        = "sqlite:///tmp/vipledger.db"
	defaultHTTPListenAddr     = ":9090"
	defaultGRPCListenAddr     = ":7000"
	defaultAllowedOrigin      = "http://localhost:8000"
	defaultSessionIssuer      = "tauth"
	defaultSessionCookie      = "app_session"
	defaultKafkaTopic         = "vipledger.notifications"
	defaultTimezone           = "UTC"
	defaultLogLevel           = "info"
	defaultRequestTimeout     = 5 * time.Second
	defaultExpiryInterval     = time.Minute
	defaultEscalationInterval = 10 * time.Minute
)

// ErrInvalidConfig marks a configuration rejected by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Config aggregates runtime settings for the ledger daemon.
type Config struct {
	DatabaseURL       string   `validate:"required"`
	HTTPListenAddr    string   `validate:"required"`
	GRPCListenAddr    string   `validate:"required"`
	AllowedOrigins    []string `validate:"min=1,dive,url"`
	SessionSigningKey string   `validate:"required"`
	SessionIssuer     string   `validate:"required"`
	SessionCookieName string   `validate:"required"`
	WebhookSigningKey string   `validate:"required,min=16"`
	WebhookIssuer     string
	// WebhookLenientMemo defaults to false, so transfers whose memo carries
	// only a user id stay unmatched until an admin credits them.
	WebhookLenientMemo bool
	RedisAddr          string `validate:"omitempty,hostname_port"`
	RedisPassword      string
	RedisDB            int           `validate:"gte=0,lte=15"`
	KafkaBrokers       []string      `validate:"dive,hostname_port"`
	KafkaTopic         string        `validate:"required"`
	Timezone           string        `validate:"required,timezone"`
	RequestTimeout     time.Duration `validate:"gt=0"`
	ExpiryInterval     time.Duration `validate:"gt=0"`
	EscalationInterval time.Duration `validate:"gt=0"`
	LogLevel           string        `validate:"oneof=debug info warn error"`

	location *time.Location
}

// Validate fills defaults and checks the configuration.
func (cfg *Config) Validate() error {
	cfg.DatabaseURL = defaultIfEmpty(cfg.DatabaseURL, defaultDatabaseURL)
	cfg.HTTPListenAddr = defaultIfEmpty(cfg.HTTPListenAddr, defaultHTTPListenAddr)
	cfg.GRPCListenAddr = defaultIfEmpty(cfg.GRPCListenAddr, defaultGRPCListenAddr)
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	cfg.SessionIssuer = defaultIfEmpty(cfg.SessionIssuer, defaultSessionIssuer)
	cfg.SessionCookieName = defaultIfEmpty(cfg.SessionCookieName, defaultSessionCookie)
	cfg.KafkaTopic = defaultIfEmpty(cfg.KafkaTopic, defaultKafkaTopic)
	cfg.Timezone = defaultIfEmpty(cfg.Timezone, defaultTimezone)
	cfg.LogLevel = strings.ToLower(defaultIfEmpty(cfg.LogLevel, defaultLogLevel))
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.ExpiryInterval <= 0 {
		cfg.ExpiryInterval = defaultExpiryInterval
	}
	if cfg.EscalationInterval <= 0 {
		cfg.EscalationInterval = defaultEscalationInterval
	}

	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(cfg); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			fields := make([]string, 0, len(validationErrors))
			for _, fieldError := range validationErrors {
				fields = append(fields, fmt.Sprintf("%s (%s)", fieldError.Namespace(), fieldError.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("%w: timezone: %v", ErrInvalidConfig, err)
	}
	cfg.location = location
	return nil
}

// Location returns the resolved time zone. It is UTC until Validate succeeds.
func (cfg *Config) Location() *time.Location {
	if cfg.location == nil {
		return time.UTC
	}
	return cfg.location
}

// RedisEnabled reports whether a Redis address was configured.
func (cfg *Config) RedisEnabled() bool {
	return strings.TrimSpace(cfg.RedisAddr) != ""
}

// KafkaEnabled reports whether Kafka brokers were configured.
func (cfg *Config) KafkaEnabled() bool {
	return len(cfg.KafkaBrokers) > 0
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadEnvFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}

// ParseList splits a comma-delimited value into trimmed, non-empty items.
func ParseList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
