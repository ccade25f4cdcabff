/*
config.go - Server configuration

PURPOSE:
  Collects every setting the server needs from three layers, later layers
  winning:
    1. .env file in the working directory (optional, local development)
    2. Environment variables
    3. Command-line flags (-port, -db, -catalog)

ENVIRONMENT:
  PORT                  HTTP port (default 8080)
  DB_PATH               SQLite path, ":memory:" for a throwaway database
  LEDGER_BACKEND        "sql" (default) or "redis"
  REDIS_ADDR            Redis address (default localhost:6379)
  REDIS_PASSWORD        Redis password
  REDIS_DB              Redis database number
  REDIS_POOL_SIZE       Connection pool size
  REDIS_KEY_PREFIX      Key namespace (default "achievements")
  JWT_SECRET            HS256 secret shared with the account service (required)
  CORS_ORIGINS          Comma-separated allowed origins
  LOG_LEVEL             debug, info, warn, error (default info)
  LOG_FORMAT            json (default) or console
  CATALOG_PATH          JSON catalog to seed; empty uses the embedded default
  HTTP_READ_TIMEOUT     e.g. "15s"
  HTTP_WRITE_TIMEOUT
  HTTP_IDLE_TIMEOUT
  SHUTDOWN_TIMEOUT

SEE ALSO:
  - logger.go: zap logger construction
  - cmd/server/main.go: startup
*/
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	LedgerSQL   = "sql"
	LedgerRedis = "redis"
)

// Config holds all configuration for the server.
type Config struct {
	// Server
	Port            int
	CORSOrigins     []string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Storage
	DBPath        string
	LedgerBackend string
	Redis         RedisConfig

	// Auth
	JWTSecret string

	// Logging
	LogLevel  string
	LogFormat string

	// Catalog
	CatalogPath string
}

// RedisConfig holds the connection settings for the Redis ledger.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	KeyPrefix    string
}

// Load reads configuration from .env, the environment and args (usually os.Args[1:]).
// The result is validated.
func Load(args []string) (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := &Config{
		Port:            getEnvAsInt("PORT", 8080),
		CORSOrigins:     getEnvAsStringSlice("CORS_ORIGINS", []string{"http://localhost:5173", "http://localhost:3000"}),
		ReadTimeout:     getEnvAsDuration("HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvAsDuration("HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvAsDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		DBPath:        getEnv("DB_PATH", "achievements.db"),
		LedgerBackend: strings.ToLower(getEnv("LEDGER_BACKEND", LedgerSQL)),
		Redis: RedisConfig{
			Addr:         getEnv("REDIS_ADDR", "localhost:6379"),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getEnvAsInt("REDIS_DB", 0),
			PoolSize:     getEnvAsInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: 2,
			DialTimeout:  getEnvAsDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvAsDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvAsDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			KeyPrefix:    getEnv("REDIS_KEY_PREFIX", "achievements"),
		},

		JWTSecret: getEnv("JWT_SECRET", ""),

		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "json")),

		CatalogPath: getEnv("CATALOG_PATH", ""),
	}

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path (\":memory:\" for in-memory)")
	fs.StringVar(&cfg.CatalogPath, "catalog", cfg.CatalogPath, "achievement catalog JSON file")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET must be set"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("database path must be set"))
	}
	switch c.LedgerBackend {
	case LedgerSQL:
	case LedgerRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("REDIS_ADDR must be set when LEDGER_BACKEND=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ledger backend %q (want %q or %q)", c.LedgerBackend, LedgerSQL, LedgerRedis))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// =============================================================================
// ENVIRONMENT HELPERS
// =============================================================================

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsDuration supports formats like "5m", "1h", "30s".
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsStringSlice(key string, defaultValue []string) []string {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
