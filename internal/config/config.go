// Package config provides configuration loading for remindd.
//
// Configuration is loaded from a YAML file and overridden by environment
// variables. See loader.go for precedence and security rules.
package config

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// e164Pattern matches E.164 phone numbers: "+" then 1-15 digits, first 1-9.
var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// Config holds the complete remindd configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Twilio        TwilioConfig        `koanf:"twilio"`
	Call          CallConfig          `koanf:"call"`
	Store         StoreConfig         `koanf:"store"`
	Prompts       PromptsConfig       `koanf:"prompts"`
	Observability ObservabilityConfig `koanf:"observability"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`

	// PublicBaseURL is the externally reachable base URL the telephony
	// provider uses to deliver webhook callbacks, e.g. "https://remindd.example.com".
	PublicBaseURL string `koanf:"public_base_url"`

	// RateLimit caps webhook requests per second per client IP; zero
	// disables limiting.
	RateLimit float64 `koanf:"rate_limit"`
	RateBurst int     `koanf:"rate_burst"`
}

// TwilioConfig holds telephony provider credentials and options.
type TwilioConfig struct {
	AccountSID Secret `koanf:"account_sid"`
	AuthToken  Secret `koanf:"auth_token"`
	FromNumber string `koanf:"from_number"`
	BaseURL    string `koanf:"base_url"`
}

// CallConfig holds call-flow tuning parameters.
type CallConfig struct {
	// MaxRetries caps re-prompts after empty speech before the call ends.
	MaxRetries int `koanf:"max_retries"`

	// MinTalkDuration is the shortest completed-call duration considered a
	// genuine conversation. Shorter completed calls trigger SMS fallback.
	MinTalkDuration Duration `koanf:"min_talk_duration"`

	// RingTimeout is passed to the provider as the ring timeout in seconds.
	RingTimeout Duration `koanf:"ring_timeout"`

	// Record enables call recording on outbound calls.
	Record bool `koanf:"record"`
}

// StoreConfig selects and configures the call record store.
type StoreConfig struct {
	// Provider is "memory" or "nats".
	Provider string     `koanf:"provider"`
	NATS     NATSConfig `koanf:"nats"`
}

// NATSConfig holds JetStream key-value store configuration.
type NATSConfig struct {
	URL    string `koanf:"url"`
	Bucket string `koanf:"bucket"`
}

// PromptsConfig points at an optional prompt catalog override file.
type PromptsConfig struct {
	Path string `koanf:"path"`
}

// ObservabilityConfig holds OpenTelemetry and logging configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	ServiceName     string `koanf:"service_name"`
	Endpoint        string `koanf:"endpoint"`

	// LogLevel is a zap level name: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is "json" or "console".
	LogFormat string `koanf:"log_format"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Twilio.BaseURL == "" {
		cfg.Twilio.BaseURL = "https://api.twilio.com/2010-04-01"
	}

	if cfg.Call.MaxRetries == 0 {
		cfg.Call.MaxRetries = 2
	}
	if cfg.Call.MinTalkDuration == 0 {
		cfg.Call.MinTalkDuration = Duration(5 * time.Second)
	}
	if cfg.Call.RingTimeout == 0 {
		cfg.Call.RingTimeout = Duration(30 * time.Second)
	}

	if cfg.Store.Provider == "" {
		cfg.Store.Provider = "memory"
	}
	if cfg.Store.NATS.URL == "" {
		cfg.Store.NATS.URL = "nats://localhost:4222"
	}
	if cfg.Store.NATS.Bucket == "" {
		cfg.Store.NATS.Bucket = "call_sessions"
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "remindd"
	}
	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = "info"
	}
	if cfg.Observability.LogFormat == "" {
		cfg.Observability.LogFormat = "json"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if c.Twilio.FromNumber != "" && !e164Pattern.MatchString(c.Twilio.FromNumber) {
		return fmt.Errorf("twilio from_number %q is not E.164", c.Twilio.FromNumber)
	}

	if c.Call.MaxRetries < 1 {
		return fmt.Errorf("call max_retries must be >= 1, got %d", c.Call.MaxRetries)
	}
	if c.Call.MinTalkDuration.Duration() < 0 {
		return errors.New("call min_talk_duration cannot be negative")
	}

	switch c.Store.Provider {
	case "memory", "nats":
	default:
		return fmt.Errorf("store provider must be 'memory' or 'nats', got %q", c.Store.Provider)
	}

	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}

	return nil
}

// IsE164 reports whether number is a valid E.164 phone number.
func IsE164(number string) bool {
	return e164Pattern.MatchString(number)
}
