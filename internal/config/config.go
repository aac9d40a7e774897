// Package config provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the chat room service.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Supported history store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

// RateLimitConfig defines the parameters of the per-origin limiter.
// Interval is the sustained spacing between requests and Grace is the burst
// allowance subtracted before a caller is told to wait.
type RateLimitConfig struct {
	Interval time.Duration
	Grace    time.Duration
}

// StoreConfig selects and locates the chat history backend.
type StoreConfig struct {
	Driver      string
	SQLitePath  string
	RedisURL    string
	DatabaseURL string
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port            string
	Env             string
	LogLevel        string
	AllowedOrigins  []string
	MaxMessageSize  int64
	RateLimit       RateLimitConfig
	HistoryLimit    int
	RoomIdleTimeout time.Duration
	OriginHeader    string
	ShutdownTimeout time.Duration
	Store           StoreConfig
}

func defaultConfig() Config {
	return Config{
		Port:     "8080",
		Env:      "development",
		LogLevel: "info",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: 4096,
		RateLimit: RateLimitConfig{
			Interval: 500 * time.Millisecond,
			Grace:    5 * time.Second,
		},
		HistoryLimit:    100,
		RoomIdleTimeout: 5 * time.Minute,
		OriginHeader:    "CF-Connecting-IP",
		ShutdownTimeout: 10 * time.Second,
		Store: StoreConfig{
			Driver:     DriverMemory,
			SQLitePath: "./data/chat.db",
		},
	}
}

// Sanitize replaces unusable values with their defaults.
func (c Config) Sanitize() Config {
	def := defaultConfig()

	if c.Port == "" {
		c.Port = def.Port
	}
	if c.Env == "" {
		c.Env = def.Env
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.RateLimit.Interval <= 0 {
		c.RateLimit.Interval = def.RateLimit.Interval
	}
	if c.RateLimit.Grace < 0 {
		c.RateLimit.Grace = def.RateLimit.Grace
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = def.HistoryLimit
	}
	if c.RoomIdleTimeout < 0 {
		c.RoomIdleTimeout = 0
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	if c.Store.Driver == "" {
		c.Store.Driver = DriverMemory
	}
	if c.Store.SQLitePath == "" {
		c.Store.SQLitePath = def.Store.SQLitePath
	}
	c.AllowedOrigins = append([]string(nil), c.AllowedOrigins...)
	return c
}

// Validate reports configuration that cannot be repaired with defaults.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory, DriverSQLite:
	case DriverRedis:
		if c.Store.RedisURL == "" && c.IsProduction() {
			return fmt.Errorf("config: REDIS_URL is required for store driver %q", c.Store.Driver)
		}
	case DriverPostgres:
		if c.Store.DatabaseURL == "" && c.IsProduction() {
			return fmt.Errorf("config: DATABASE_URL is required for store driver %q", c.Store.Driver)
		}
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// Addr returns the listen address for the HTTP server.
func (c Config) Addr() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}

// New creates a Config instance populated with default values for all settings.
func New() Config {
	return defaultConfig()
}

// Load reads configuration from environment variables, loading a .env file
// first when one is present. Unset or unparsable values fall back to defaults.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from the given lookup function.
func FromEnv(getenv func(string) string) (Config, error) {
	cfg := defaultConfig()

	if port := getenv("PORT"); port != "" {
		cfg.Port = port
	}
	if env := getenv("ENV"); env != "" {
		cfg.Env = env
	}
	if level := getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if origins := getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}
	if maxSize := getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}
	if interval := getenv("RATE_LIMIT_INTERVAL"); interval != "" {
		cfg.RateLimit.Interval = parseDuration(interval, cfg.RateLimit.Interval)
	}
	if grace := getenv("RATE_LIMIT_GRACE"); grace != "" {
		cfg.RateLimit.Grace = parseDuration(grace, cfg.RateLimit.Grace)
	}
	if limit := getenv("HISTORY_LIMIT"); limit != "" {
		cfg.HistoryLimit = parseIntValue(limit, cfg.HistoryLimit)
	}
	if idle := getenv("ROOM_IDLE_TIMEOUT"); idle != "" {
		cfg.RoomIdleTimeout = parseDuration(idle, cfg.RoomIdleTimeout)
	}
	if header, ok := lookup(getenv, "ORIGIN_HEADER"); ok {
		cfg.OriginHeader = header
	}
	if timeout := getenv("SHUTDOWN_TIMEOUT"); timeout != "" {
		cfg.ShutdownTimeout = parseDuration(timeout, cfg.ShutdownTimeout)
	}
	if driver := getenv("STORE_DRIVER"); driver != "" {
		cfg.Store.Driver = driver
	}
	if path := getenv("SQLITE_PATH"); path != "" {
		cfg.Store.SQLitePath = path
	}
	cfg.Store.RedisURL = getenv("REDIS_URL")
	cfg.Store.DatabaseURL = getenv("DATABASE_URL")

	cfg = cfg.Sanitize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// lookup distinguishes an explicitly empty ORIGIN_HEADER ("-") from an unset one.
func lookup(getenv func(string) string, key string) (string, bool) {
	value := getenv(key)
	switch value {
	case "":
		return "", false
	case "-":
		return "", true
	default:
		return strings.TrimSpace(value), true
	}
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseDuration accepts Go duration strings ("500ms") or bare whole seconds ("5").
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d >= 0 {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
