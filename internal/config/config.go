package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kaivalyagandhi/catchup-app-sub016/internal/events"
)

// Backend selects the persistence backend for cursors and rate counters.
const (
	BackendSQLite   = "sqlite"
	BackendDynamoDB = "dynamodb"
)

// Config holds all application configuration.
type Config struct {
	// Provider configuration (Google People API)
	Provider ProviderConfig `json:"provider"`

	// Rate limiting budgets and backoff
	RateLimit RateLimitConfig `json:"rate_limit"`

	// Sync behavior
	Sync SyncConfig `json:"sync"`

	// Storage paths
	Storage StorageConfig `json:"storage"`

	// AWS settings (lambda / distributed mode)
	AWS AWSConfig `json:"aws"`

	// Logging
	Log events.LogConfig `json:"log"`
}

// ProviderConfig for the contact provider API.
type ProviderConfig struct {
	ClientID     string        `json:"client_id"`
	ClientSecret string        `json:"client_secret,omitempty"`
	RedirectURL  string        `json:"redirect_url"`
	PageSize     int64         `json:"page_size"`
	Timeout      time.Duration `json:"timeout"`
}

// RateLimitConfig for outbound provider calls.
type RateLimitConfig struct {
	UserLimit   int64         `json:"user_limit"`   // Requests per window per user
	GlobalLimit int64         `json:"global_limit"` // Requests per window across all users
	Window      time.Duration `json:"window"`       // Sliding window size
	MaxBackoffs int           `json:"max_backoffs"` // Throttle retries before giving up
	BaseBackoff time.Duration `json:"base_backoff"` // First backoff delay
	MaxBackoff  time.Duration `json:"max_backoff"`  // Backoff delay cap
}

// SyncConfig for synchronization behavior.
type SyncConfig struct {
	BatchSize      int           `json:"batch_size"`      // Contacts persisted per batch write
	ClaimStaleness time.Duration `json:"claim_staleness"` // Running claim older than this is reclaimable
	RetryAttempts  int           `json:"retry_attempts"`  // Transient datastore/network retries
	RetryDelay     time.Duration `json:"retry_delay"`     // Initial transient retry delay
}

// StorageConfig for local file paths.
type StorageConfig struct {
	DataDir  string `json:"data_dir"`  // Base directory for all data
	DBPath   string `json:"db_path"`   // SQLite database path
	VaultDir string `json:"vault_dir"` // Encrypted token files
	Backend  string `json:"backend"`   // sqlite or dynamodb (cursor + counters)
}

// AWSConfig for DynamoDB-backed cursor and counter stores.
type AWSConfig struct {
	CursorTable  string `json:"cursor_table"`
	CounterTable string `json:"counter_table"`
	Region       string `json:"region,omitempty"`
}

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() *Config {
	dataDir := ".catchup"

	return &Config{
		Provider: ProviderConfig{
			RedirectURL: "http://localhost:8089/oauth/callback",
			PageSize:    1000,
			Timeout:     30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			UserLimit:   500,
			GlobalLimit: 3000,
			Window:      60 * time.Second,
			MaxBackoffs: 5,
			BaseBackoff: time.Second,
			MaxBackoff:  30 * time.Second,
		},
		Sync: SyncConfig{
			BatchSize:      200,
			ClaimStaleness: 15 * time.Minute,
			RetryAttempts:  3,
			RetryDelay:     time.Second,
		},
		Storage: StorageConfig{
			DataDir:  dataDir,
			DBPath:   filepath.Join(dataDir, "contacts.db"),
			VaultDir: filepath.Join(dataDir, "tokens"),
			Backend:  BackendSQLite,
		},
		Log: events.LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.RateLimit.UserLimit <= 0 {
		return errors.New("rate_limit.user_limit must be positive")
	}
	if c.RateLimit.GlobalLimit < c.RateLimit.UserLimit {
		return errors.New("rate_limit.global_limit must be at least the per-user limit")
	}
	if c.RateLimit.Window <= 0 {
		return errors.New("rate_limit.window must be positive")
	}
	if c.RateLimit.MaxBackoffs <= 0 {
		return errors.New("rate_limit.max_backoffs must be positive")
	}

	if c.Sync.BatchSize <= 0 {
		return errors.New("sync.batch_size must be positive")
	}
	if c.Sync.ClaimStaleness <= 0 {
		return errors.New("sync.claim_staleness must be positive")
	}

	if c.Provider.PageSize <= 0 || c.Provider.PageSize > 1000 {
		return errors.New("provider.page_size must be in (0, 1000]")
	}

	switch c.Storage.Backend {
	case BackendSQLite:
	case BackendDynamoDB:
		if c.AWS.CursorTable == "" {
			return errors.New("aws.cursor_table required for dynamodb backend")
		}
		if c.AWS.CounterTable == "" {
			return errors.New("aws.counter_table required for dynamodb backend")
		}
	default:
		return fmt.Errorf("invalid storage backend: %s", c.Storage.Backend)
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	return nil
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDir,
		filepath.Dir(c.Storage.DBPath),
		c.Storage.VaultDir,
	}

	if c.Log.File != "" {
		dirs = append(dirs, filepath.Dir(c.Log.File))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}
