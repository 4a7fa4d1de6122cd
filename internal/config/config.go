// Package config provides configuration management for the model platform.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers
const (
	StoreDriverMemory   = "memory"
	StoreDriverPostgres = "postgres"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Database  DatabaseConfig
	Auth      AuthConfig
	Compute   ComputeConfig
	IPFS      IPFSConfig
	Realtime  RealtimeConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

// StoreConfig selects the entity store backend
type StoreConfig struct {
	Driver string
	// SeedModel creates the initial demonstration model when the store is empty
	SeedModel bool
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
	MigrationsPath string
}

// URL returns the connection URL used by golang-migrate
func (c PostgresConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", c.User, c.Password, c.Host, c.Port, c.Database)
}

// ClickHouseConfig holds ClickHouse configuration. An empty Host disables the activity archive.
type ClickHouseConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	BatchSize      int
	FlushInterval  time.Duration
	MigrationsPath string
}

// Enabled reports whether the activity archive should be started
func (c ClickHouseConfig) Enabled() bool {
	return c.Host != ""
}

// RedisConfig holds Redis configuration. An empty Host keeps session revocation in memory.
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// Enabled reports whether a Redis server is configured
func (c RedisConfig) Enabled() bool {
	return c.Host != ""
}

// AuthConfig holds session configuration
type AuthConfig struct {
	SessionSecret string
	SessionTTL    time.Duration
	CookieName    string
	CookieSecure  bool
	Issuer        string
}

// ComputeConfig holds compute-step simulation settings
type ComputeConfig struct {
	StepDelay      time.Duration
	DefaultModelID int64
}

// IPFSConfig holds IPFS gateway credentials
type IPFSConfig struct {
	ProjectID     string
	ProjectSecret string
	APIEndpoint   string
	GatewayURL    string
	Timeout       time.Duration
	MaxUploadSize int64
}

// Configured reports whether credentials are present
func (c IPFSConfig) Configured() bool {
	return c.ProjectID != "" && c.ProjectSecret != ""
}

// RealtimeConfig holds websocket hub settings
type RealtimeConfig struct {
	ClientBuffer   int
	PingPeriod     time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64
}

// RateLimitConfig holds rate limiting configuration in requests per second
type RateLimitConfig struct {
	AnonymousRPS     int
	AuthenticatedRPS int
	Burst            int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env is optional; environment variables can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "5000"),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getEnvAsList("SERVER_ALLOWED_ORIGINS", nil),
		},
		Store: StoreConfig{
			Driver:    strings.ToLower(getEnv("STORE_DRIVER", StoreDriverMemory)),
			SeedModel: getEnvAsBool("STORE_SEED_MODEL", true),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "modelforge"),
				User:           getEnv("POSTGRES_USER", "modelforge"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
				MigrationsPath: getEnv("POSTGRES_MIGRATIONS_PATH", "migrations/postgres"),
			},
			ClickHouse: ClickHouseConfig{
				Host:           getEnv("CLICKHOUSE_HOST", ""),
				Port:           getEnv("CLICKHOUSE_PORT", "9000"),
				Database:       getEnv("CLICKHOUSE_DB", "modelforge"),
				User:           getEnv("CLICKHOUSE_USER", "default"),
				Password:       getEnv("CLICKHOUSE_PASSWORD", ""),
				BatchSize:      getEnvAsInt("CLICKHOUSE_BATCH_SIZE", 100),
				FlushInterval:  getEnvAsDuration("CLICKHOUSE_FLUSH_INTERVAL", 5*time.Second),
				MigrationsPath: getEnv("CLICKHOUSE_MIGRATIONS_PATH", "migrations/clickhouse"),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", ""),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
			},
		},
		Auth: AuthConfig{
			SessionSecret: getEnv("SESSION_SECRET", ""),
			SessionTTL:    getEnvAsDuration("SESSION_TTL", 24*time.Hour),
			CookieName:    getEnv("SESSION_COOKIE_NAME", "modelforge_session"),
			CookieSecure:  getEnvAsBool("SESSION_COOKIE_SECURE", false),
			Issuer:        getEnv("SESSION_ISSUER", "modelforge"),
		},
		Compute: ComputeConfig{
			StepDelay:      getEnvAsDuration("COMPUTE_STEP_DELAY", 2*time.Second),
			DefaultModelID: int64(getEnvAsInt("COMPUTE_DEFAULT_MODEL_ID", 1)),
		},
		IPFS: IPFSConfig{
			ProjectID:     getEnv("INFURA_IPFS_ID", ""),
			ProjectSecret: getEnv("INFURA_IPFS_SECRET", ""),
			APIEndpoint:   getEnv("IPFS_API_ENDPOINT", "https://ipfs.infura.io:5001"),
			GatewayURL:    getEnv("IPFS_GATEWAY_URL", "https://ipfs.io/ipfs/"),
			Timeout:       getEnvAsDuration("IPFS_TIMEOUT", 30*time.Second),
			MaxUploadSize: int64(getEnvAsInt("IPFS_MAX_UPLOAD_BYTES", 50*1024*1024)),
		},
		Realtime: RealtimeConfig{
			ClientBuffer:   getEnvAsInt("WS_CLIENT_BUFFER", 64),
			PingPeriod:     getEnvAsDuration("WS_PING_PERIOD", 30*time.Second),
			WriteTimeout:   getEnvAsDuration("WS_WRITE_TIMEOUT", 10*time.Second),
			MaxMessageSize: int64(getEnvAsInt("WS_MAX_MESSAGE_BYTES", 4096)),
		},
		RateLimit: RateLimitConfig{
			AnonymousRPS:     getEnvAsInt("RATE_LIMIT_ANONYMOUS_RPS", 20),
			AuthenticatedRPS: getEnvAsInt("RATE_LIMIT_AUTHENTICATED_RPS", 50),
			Burst:            getEnvAsInt("RATE_LIMIT_BURST", 20),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks values that have no safe default
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreDriverMemory, StoreDriverPostgres:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q (want %s or %s)", c.Store.Driver, StoreDriverMemory, StoreDriverPostgres)
	}
	if c.Auth.SessionSecret == "" {
		return fmt.Errorf("SESSION_SECRET is required")
	}
	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive, got %v", c.Auth.SessionTTL)
	}
	if c.Compute.StepDelay < 0 {
		return fmt.Errorf("COMPUTE_STEP_DELAY must not be negative, got %v", c.Compute.StepDelay)
	}
	if c.Realtime.ClientBuffer <= 0 {
		return fmt.Errorf("WS_CLIENT_BUFFER must be positive, got %d", c.Realtime.ClientBuffer)
	}
	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a boolean with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma separated variable, dropping empty items
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
