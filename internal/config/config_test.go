package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaivalyagandhi/catchup-app-sub016/internal/config"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := config.DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, int64(500), cfg.RateLimit.UserLimit)
	assert.Equal(t, int64(3000), cfg.RateLimit.GlobalLimit)
	assert.Equal(t, 60*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, 5, cfg.RateLimit.MaxBackoffs)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.MaxBackoff)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"zero user limit", func(c *config.Config) { c.RateLimit.UserLimit = 0 }},
		{"global below user", func(c *config.Config) { c.RateLimit.GlobalLimit = 10 }},
		{"zero window", func(c *config.Config) { c.RateLimit.Window = 0 }},
		{"zero batch size", func(c *config.Config) { c.Sync.BatchSize = 0 }},
		{"oversized page", func(c *config.Config) { c.Provider.PageSize = 5000 }},
		{"unknown backend", func(c *config.Config) { c.Storage.Backend = "etcd" }},
		{"dynamodb without tables", func(c *config.Config) {
			c.Storage.Backend = config.BackendDynamoDB
		}},
		{"bad log level", func(c *config.Config) { c.Log.Level = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoaderReadsFileAndEnv(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "catchup.json")
	data := `{"rate_limit":{"user_limit":100,"global_limit":600,"window":60000000000,"max_backoffs":5,"base_backoff":1000000000,"max_backoff":30000000000}}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0600))

	t.Setenv("CATCHUP_USER_RATE_LIMIT", "250")
	t.Setenv("CATCHUP_LOG_LEVEL", "debug")

	cfg, err := config.NewLoader(path).Load()
	require.NoError(t, err)

	// Env wins over file.
	assert.Equal(t, int64(250), cfg.RateLimit.UserLimit)
	assert.Equal(t, int64(600), cfg.RateLimit.GlobalLimit)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestEnsureDirectories(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Storage.DataDir = filepath.Join(tmpDir, "data")
	cfg.Storage.DBPath = filepath.Join(tmpDir, "data", "contacts.db")
	cfg.Storage.VaultDir = filepath.Join(tmpDir, "data", "tokens")

	require.NoError(t, cfg.EnsureDirectories())

	for _, dir := range []string{cfg.Storage.DataDir, cfg.Storage.VaultDir} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
