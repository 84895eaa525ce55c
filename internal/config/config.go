// Package config loads the relay configuration from defaults, an optional
// YAML file and the environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
	"gopkg.in/yaml.v3"
)

// Default values for the relay configuration.
const (
	DefaultAddr                = "127.0.0.1:8080"
	DefaultWSPath              = "/ws/"
	DefaultMaxMessageSize      = 4096
	DefaultSendBuffer          = 256
	DefaultDiagnosticsInterval = 5 * time.Second
	DefaultRateLimitBurst      = 50
	DefaultRateLimitRefill     = time.Second
	DefaultShutdownTimeout     = 10 * time.Second
)

// Config holds the relay settings. Every field can be set from the YAML file
// and overridden by the environment variable named in its env tag.
type Config struct {
	// Addr is the host:port the HTTP listener binds to.
	Addr string `yaml:"addr" env:"RELAY_ADDR"`

	// WSPath is the route of the relay endpoint.
	WSPath string `yaml:"ws_path" env:"RELAY_WS_PATH"`

	// AllowedOrigins lists the browser origins accepted on upgrade.
	// "*" accepts any origin, including requests without one.
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`

	// MaxMessageSize is the largest inbound frame in bytes. Larger frames
	// terminate the connection.
	MaxMessageSize int64 `yaml:"max_message_size" env:"MAX_MESSAGE_SIZE"`

	// SendBuffer is the per-connection outbound queue depth.
	SendBuffer int `yaml:"send_buffer" env:"SEND_BUFFER"`

	DiagnosticsInterval time.Duration `yaml:"diagnostics_interval" env:"DIAGNOSTICS_INTERVAL"`

	RateLimitBurst          int           `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	RateLimitRefillInterval time.Duration `yaml:"rate_limit_refill_interval" env:"RATE_LIMIT_REFILL_INTERVAL"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`

	LogLevel  string `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat string `yaml:"log_format" env:"LOG_FORMAT"`
}

// Default returns a Config populated with default values for all settings.
func Default() *Config {
	return &Config{
		Addr:                    DefaultAddr,
		WSPath:                  DefaultWSPath,
		AllowedOrigins:          []string{"*"},
		MaxMessageSize:          DefaultMaxMessageSize,
		SendBuffer:              DefaultSendBuffer,
		DiagnosticsInterval:     DefaultDiagnosticsInterval,
		RateLimitBurst:          DefaultRateLimitBurst,
		RateLimitRefillInterval: DefaultRateLimitRefill,
		ShutdownTimeout:         DefaultShutdownTimeout,
		LogLevel:                "info",
		LogFormat:               "text",
	}
}

// Load builds the configuration. path may be empty, in which case only
// defaults and the environment are used. A .env file in the working
// directory is read if present.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	if err := env.Load(cfg, &env.Options{SliceSep: ","}); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	cfg.AllowedOrigins = trimAll(cfg.AllowedOrigins)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse yaml: %w", err)
	}
	return nil
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func validate(cfg *Config) error {
	if cfg.Addr == "" {
		return errors.New("addr must not be empty")
	}
	if !strings.HasPrefix(cfg.WSPath, "/") {
		return fmt.Errorf("ws_path %q must start with /", cfg.WSPath)
	}
	if cfg.WSPath == "/" || cfg.WSPath == "/metrics" || cfg.WSPath == "/test" {
		return fmt.Errorf("ws_path %q collides with a built-in route", cfg.WSPath)
	}
	if cfg.MaxMessageSize <= 0 {
		return fmt.Errorf("max_message_size must be positive, got %d", cfg.MaxMessageSize)
	}
	if cfg.SendBuffer <= 0 {
		return fmt.Errorf("send_buffer must be positive, got %d", cfg.SendBuffer)
	}
	if cfg.DiagnosticsInterval <= 0 {
		return fmt.Errorf("diagnostics_interval must be positive, got %s", cfg.DiagnosticsInterval)
	}
	if cfg.RateLimitBurst <= 0 {
		return fmt.Errorf("rate_limit_burst must be positive, got %d", cfg.RateLimitBurst)
	}
	if cfg.RateLimitRefillInterval <= 0 {
		return fmt.Errorf("rate_limit_refill_interval must be positive, got %s", cfg.RateLimitRefillInterval)
	}
	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive, got %s", cfg.ShutdownTimeout)
	}
	switch cfg.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format %q unknown: want text|json", cfg.LogFormat)
	}
	return nil
}
