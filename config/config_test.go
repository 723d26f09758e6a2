package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnvDefaults(t *testing.T) {
	cfg, err := LoadFromEnv(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "mongodb://localhost:27017", cfg.MongoURI)
	assert.Equal(t, "tablecache", cfg.MongoDB)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, 10, cfg.RedisPoolSize)
	assert.False(t, cfg.Debug)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("REDIS_ADDR", "cache:6380")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("TABLECACHE_DEBUG", "true")

	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("MONGO_DB=games\nLOG_LEVEL=debug\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("MONGO_DB")
		os.Unsetenv("LOG_LEVEL")
	})

	cfg, err := LoadFromEnv(envFile)
	require.NoError(t, err)

	assert.Equal(t, "cache:6380", cfg.RedisAddr)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "games", cfg.MongoDB)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestStringMasksSecrets(t *testing.T) {
	cfg := &Config{
		MongoURI:      "mongodb://admin:hunter2@db:27017/?authSource=admin",
		RedisPassword: "s3cret",
	}

	out := cfg.String()
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "s3cret")
	assert.Contains(t, out, "mongodb://admin:********@db:27017")
	assert.Contains(t, out, "RedisPassword: ********")

	assert.Equal(t, "mongodb://localhost:27017", maskURI("mongodb://localhost:27017"))
	assert.Equal(t, "mongodb://user@db", maskURI("mongodb://user@db"))
}
