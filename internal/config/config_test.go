package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, "deepvisas.db", cfg.Storage.Path)
	assert.Equal(t, "plain", cfg.Auth.SecretHashing)
	assert.Equal(t, 5, cfg.Auth.RateBurst)
	assert.Empty(t, cfg.Session.SigningKey)
	assert.Equal(t, 7*24*time.Hour, cfg.Session.MaxAge)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9000"
  write_timeout: 30s
storage:
  driver: postgres
  url: postgres://localhost/deepvisas
auth:
  secret_hashing: bcrypt
session:
  max_age: 12h
log:
  format: json
cors:
  allowed_origins:
    - http://localhost:3000
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, DriverPostgres, cfg.Storage.Driver)
	assert.Equal(t, "postgres://localhost/deepvisas", cfg.Storage.URL)
	assert.Equal(t, "bcrypt", cfg.Auth.SecretHashing)
	assert.Equal(t, 12*time.Hour, cfg.Session.MaxAge)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host, "defaults survive a partial file")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
storage:
  driver: sqlite
  path: /tmp/from-file.db
`)
	t.Setenv("DEEPVISAS_STORAGE__PATH", "/tmp/from-env.db")
	t.Setenv("DEEPVISAS_SERVER__METRICS_PORT", "9191")
	t.Setenv("DEEPVISAS_CORS__ALLOWED_ORIGINS", "http://a.test, http://b.test")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/from-env.db", cfg.Storage.Path)
	assert.Equal(t, "9191", cfg.Server.MetricsPort)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORS.AllowedOrigins)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Storage: StorageConfig{Driver: DriverMemory},
			Auth:    AuthConfig{SecretHashing: "plain"},
			Log:     LogConfig{Format: "text"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "redis" }, "storage.driver"},
		{"sqlite without path", func(c *Config) { c.Storage.Driver = DriverSQLite }, "storage.path"},
		{"postgres without url", func(c *Config) { c.Storage.Driver = DriverPostgres }, "storage.url"},
		{"unknown hashing", func(c *Config) { c.Auth.SecretHashing = "md5" }, "secret_hashing"},
		{"short signing key", func(c *Config) { c.Session.SigningKey = "short" }, "signing_key"},
		{"long signing key", func(c *Config) { c.Session.SigningKey = strings.Repeat("k", MinSigningKeyLength) }, ""},
		{"negative burst", func(c *Config) { c.Auth.RateBurst = -1 }, "rate_burst"},
		{"unknown log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestTransformEnv(t *testing.T) {
	key, value := transformEnv("DEEPVISAS_SESSION__SIGNING_KEY", "secret")
	assert.Equal(t, "session.signing_key", key)
	assert.Equal(t, "secret", value)

	key, _ = transformEnv("DEEPVISAS_CONFIG", "/etc/deepvisas.yaml")
	assert.Empty(t, key)
}
