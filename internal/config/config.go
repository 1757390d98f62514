// Package config loads application configuration from defaults, an optional
// YAML file and DEEPVISAS_ environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bissquit/deepvisas/internal/credentials"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment overrides. Nested keys are
// separated by a double underscore: DEEPVISAS_STORAGE__DRIVER=postgres.
const EnvPrefix = "DEEPVISAS_"

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// MinSigningKeyLength is the shortest accepted session signing key.
const MinSigningKeyLength = 32

// Config is the root configuration.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Storage StorageConfig `koanf:"storage"`
	Auth    AuthConfig    `koanf:"auth"`
	Session SessionConfig `koanf:"session"`
	Log     LogConfig     `koanf:"log"`
	CORS    CORSConfig    `koanf:"cors"`
}

// ServerConfig configures the HTTP listeners.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
}

// StorageConfig selects where identities and the session snapshot live.
// Path is used by sqlite, URL and the pool settings by postgres.
type StorageConfig struct {
	Driver          string        `koanf:"driver"`
	Path            string        `koanf:"path"`
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts"`
}

// AuthConfig configures credential checks.
type AuthConfig struct {
	SecretHashing string  `koanf:"secret_hashing"`
	RateLimit     float64 `koanf:"rate_limit"`
	RateBurst     int     `koanf:"rate_burst"`
}

// SessionConfig configures the persisted session snapshot. An empty
// SigningKey stores the snapshot as plain JSON.
type SessionConfig struct {
	SigningKey string        `koanf:"signing_key"`
	MaxAge     time.Duration `koanf:"max_age"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// CORSConfig configures allowed origins for the JSON API.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

var defaults = map[string]any{
	"server.host":                "127.0.0.1",
	"server.port":                "8080",
	"server.metrics_port":        "9090",
	"server.read_timeout":        15 * time.Second,
	"server.read_header_timeout": 5 * time.Second,
	"server.write_timeout":       15 * time.Second,
	"server.idle_timeout":        60 * time.Second,
	"server.shutdown_timeout":    10 * time.Second,

	"storage.driver":            DriverSQLite,
	"storage.path":              "deepvisas.db",
	"storage.max_open_conns":    5,
	"storage.max_idle_conns":    1,
	"storage.conn_max_lifetime": 30 * time.Minute,
	"storage.connect_timeout":   30 * time.Second,
	"storage.connect_attempts":  5,

	"auth.secret_hashing": credentials.HashingPlain,
	"auth.rate_limit":     1.0,
	"auth.rate_burst":     5,

	"session.max_age": 7 * 24 * time.Hour,

	"log.level":  "info",
	"log.format": "text",
}

// Load reads configuration. path may be empty, in which case only defaults
// and the environment are used.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("set default %s: %w", key, err)
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", transformEnv), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func transformEnv(key, value string) (string, any) {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	key = strings.ReplaceAll(key, "__", ".")
	if key == "config" {
		return "", nil
	}
	if key == "cors.allowed_origins" {
		return key, splitList(value)
	}
	return key, value
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case DriverSQLite:
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path is required for sqlite"))
		}
	case DriverPostgres:
		if c.Storage.URL == "" {
			errs = append(errs, errors.New("storage.url is required for postgres"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}

	switch c.Auth.SecretHashing {
	case credentials.HashingPlain, credentials.HashingBcrypt:
	default:
		errs = append(errs, fmt.Errorf("unknown auth.secret_hashing %q", c.Auth.SecretHashing))
	}
	if c.Auth.RateLimit < 0 || c.Auth.RateBurst < 0 {
		errs = append(errs, errors.New("auth.rate_limit and auth.rate_burst must not be negative"))
	}

	if c.Session.SigningKey != "" && len(c.Session.SigningKey) < MinSigningKeyLength {
		errs = append(errs, fmt.Errorf("session.signing_key must be at least %d bytes", MinSigningKeyLength))
	}
	if c.Session.MaxAge < 0 {
		errs = append(errs, errors.New("session.max_age must not be negative"))
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}

	return errors.Join(errs...)
}
