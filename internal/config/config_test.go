package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestDefaults(t *testing.T) {
	cfg, err := FromEnv(env(nil))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr())
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, 500*time.Millisecond, cfg.RateLimit.Interval)
	assert.Equal(t, 5*time.Second, cfg.RateLimit.Grace)
	assert.Equal(t, 100, cfg.HistoryLimit)
	assert.Equal(t, "CF-Connecting-IP", cfg.OriginHeader)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, int64(4096), cfg.MaxMessageSize)
}

func TestFromEnvOverrides(t *testing.T) {
	cfg, err := FromEnv(env(map[string]string{
		"PORT":                ":9000",
		"ENV":                 "production",
		"LOG_LEVEL":           "debug",
		"ALLOWED_ORIGINS":     "https://chat.example, https://admin.example",
		"MAX_MESSAGE_SIZE":    "2048",
		"RATE_LIMIT_INTERVAL": "250ms",
		"RATE_LIMIT_GRACE":    "2",
		"HISTORY_LIMIT":       "50",
		"ROOM_IDLE_TIMEOUT":   "30s",
		"ORIGIN_HEADER":       "X-Forwarded-For",
		"SHUTDOWN_TIMEOUT":    "3s",
		"STORE_DRIVER":        "SQLite",
		"SQLITE_PATH":         "/tmp/chat.db",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Addr())
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, []string{"https://chat.example", "https://admin.example"}, cfg.AllowedOrigins)
	assert.Equal(t, int64(2048), cfg.MaxMessageSize)
	assert.Equal(t, 250*time.Millisecond, cfg.RateLimit.Interval)
	assert.Equal(t, 2*time.Second, cfg.RateLimit.Grace)
	assert.Equal(t, 50, cfg.HistoryLimit)
	assert.Equal(t, 30*time.Second, cfg.RoomIdleTimeout)
	assert.Equal(t, "X-Forwarded-For", cfg.OriginHeader)
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, "/tmp/chat.db", cfg.Store.SQLitePath)
}

func TestInvalidNumbersFallBack(t *testing.T) {
	cfg, err := FromEnv(env(map[string]string{
		"MAX_MESSAGE_SIZE":    "-1",
		"HISTORY_LIMIT":       "lots",
		"RATE_LIMIT_INTERVAL": "soon",
	}))
	require.NoError(t, err)

	assert.Equal(t, int64(4096), cfg.MaxMessageSize)
	assert.Equal(t, 100, cfg.HistoryLimit)
	assert.Equal(t, 500*time.Millisecond, cfg.RateLimit.Interval)
}

func TestOriginHeaderCanBeDisabled(t *testing.T) {
	cfg, err := FromEnv(env(map[string]string{"ORIGIN_HEADER": "-"}))
	require.NoError(t, err)
	assert.Empty(t, cfg.OriginHeader)
}

func TestStoreValidation(t *testing.T) {
	_, err := FromEnv(env(map[string]string{"STORE_DRIVER": "etcd"}))
	assert.Error(t, err)

	_, err = FromEnv(env(map[string]string{"ENV": "production", "STORE_DRIVER": "redis"}))
	assert.Error(t, err)

	_, err = FromEnv(env(map[string]string{"ENV": "production", "STORE_DRIVER": "postgres"}))
	assert.Error(t, err)

	cfg, err := FromEnv(env(map[string]string{
		"ENV":          "production",
		"STORE_DRIVER": "redis",
		"REDIS_URL":    "redis://localhost:6379/0",
	}))
	require.NoError(t, err)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Store.RedisURL)
}

func TestSanitizeRepairsZeroValues(t *testing.T) {
	cfg := Config{}.Sanitize()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, 500*time.Millisecond, cfg.RateLimit.Interval)
	assert.Zero(t, cfg.RateLimit.Grace)
	assert.Equal(t, 100, cfg.HistoryLimit)
	assert.NoError(t, cfg.Validate())
}
