package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("SESSION_SECRET", "test-secret")
	t.Setenv("COMPUTE_STEP_DELAY", "250ms")
	t.Setenv("STORE_DRIVER", "Postgres")
	t.Setenv("SERVER_ALLOWED_ORIGINS", "http://localhost:3000, ,https://app.example")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 250*time.Millisecond, cfg.Compute.StepDelay)
	assert.Equal(t, StoreDriverPostgres, cfg.Store.Driver)
	assert.Equal(t, []string{"http://localhost:3000", "https://app.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, int64(1), cfg.Compute.DefaultModelID)
	assert.False(t, cfg.IPFS.Configured())
	assert.False(t, cfg.Database.Redis.Enabled())
	assert.False(t, cfg.Database.ClickHouse.Enabled())
}

func TestLoadConfigRequiresSecret(t *testing.T) {
	t.Setenv("SESSION_SECRET", "")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SESSION_SECRET")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Store:    StoreConfig{Driver: StoreDriverMemory},
			Auth:     AuthConfig{SessionSecret: "s", SessionTTL: time.Hour},
			Compute:  ComputeConfig{StepDelay: time.Second},
			Realtime: RealtimeConfig{ClientBuffer: 8},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "unknown driver", mutate: func(c *Config) { c.Store.Driver = "sqlite" }, wantErr: "STORE_DRIVER"},
		{name: "zero ttl", mutate: func(c *Config) { c.Auth.SessionTTL = 0 }, wantErr: "SESSION_TTL"},
		{name: "negative delay", mutate: func(c *Config) { c.Compute.StepDelay = -time.Second }, wantErr: "COMPUTE_STEP_DELAY"},
		{name: "zero buffer", mutate: func(c *Config) { c.Realtime.ClientBuffer = 0 }, wantErr: "WS_CLIENT_BUFFER"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
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

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_BAD_INT", "forty-two")
	t.Setenv("TEST_BOOL", "true")
	t.Setenv("TEST_DURATION", "1m30s")

	assert.Equal(t, "default", getEnv("NONEXISTENT_KEY", "default"))
	assert.Equal(t, 42, getEnvAsInt("TEST_INT", 7))
	assert.Equal(t, 7, getEnvAsInt("TEST_BAD_INT", 7))
	assert.True(t, getEnvAsBool("TEST_BOOL", false))
	assert.Equal(t, 90*time.Second, getEnvAsDuration("TEST_DURATION", time.Second))
	assert.Equal(t, time.Second, getEnvAsDuration("NONEXISTENT_KEY", time.Second))
}

func TestIPFSConfigured(t *testing.T) {
	assert.True(t, IPFSConfig{ProjectID: "id", ProjectSecret: "secret"}.Configured())
	assert.False(t, IPFSConfig{ProjectID: "id"}.Configured())
}

func TestPostgresURL(t *testing.T) {
	cfg := PostgresConfig{User: "u", Password: "p", Host: "db", Port: "5432", Database: "mf"}
	assert.Equal(t, "postgres://u:p@db:5432/mf?sslmode=disable", cfg.URL())
}
