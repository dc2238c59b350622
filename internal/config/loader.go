package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Loader handles configuration loading from multiple sources.
type Loader struct {
	configPath string
	envPrefix  string
}

// NewLoader creates a config loader.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
		envPrefix:  "CATCHUP_",
	}
}

// Load reads configuration from file and environment.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFile(cfg); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	} else {
		for _, path := range l.defaultPaths() {
			if _, err := os.Stat(path); err == nil {
				l.configPath = path
				if err := l.loadFile(cfg); err != nil {
					return nil, fmt.Errorf("load config file %s: %w", path, err)
				}
				break
			}
		}
	}

	l.loadEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// defaultPaths returns default config file locations.
func (l *Loader) defaultPaths() []string {
	paths := []string{
		"catchup.json",
		".catchup.json",
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(homeDir, ".config", "catchup", "config.json"),
			filepath.Join(homeDir, ".catchup", "config.json"),
		)
	}

	return paths
}

// loadFile reads config from JSON file.
func (l *Loader) loadFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse JSON: %w", err)
	}

	return nil
}

// loadEnv overrides config from environment variables.
func (l *Loader) loadEnv(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(l.envPrefix + key); v != "" {
			*dst = v
		}
	}
	setInt64 := func(key string, dst *int64) {
		if v := os.Getenv(l.envPrefix + key); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				*dst = n
			}
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v := os.Getenv(l.envPrefix + key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}

	setString("CLIENT_ID", &cfg.Provider.ClientID)
	setString("CLIENT_SECRET", &cfg.Provider.ClientSecret)
	setString("REDIRECT_URL", &cfg.Provider.RedirectURL)
	setInt64("PAGE_SIZE", &cfg.Provider.PageSize)

	setInt64("USER_RATE_LIMIT", &cfg.RateLimit.UserLimit)
	setInt64("GLOBAL_RATE_LIMIT", &cfg.RateLimit.GlobalLimit)
	setDuration("RATE_WINDOW", &cfg.RateLimit.Window)

	setDuration("CLAIM_STALENESS", &cfg.Sync.ClaimStaleness)

	setString("DATA_DIR", &cfg.Storage.DataDir)
	setString("DB_PATH", &cfg.Storage.DBPath)
	setString("VAULT_DIR", &cfg.Storage.VaultDir)
	setString("BACKEND", &cfg.Storage.Backend)

	setString("CURSOR_TABLE", &cfg.AWS.CursorTable)
	setString("COUNTER_TABLE", &cfg.AWS.CounterTable)
	setString("AWS_REGION", &cfg.AWS.Region)

	setString("LOG_LEVEL", &cfg.Log.Level)
	setString("LOG_FORMAT", &cfg.Log.Format)
	setString("LOG_FILE", &cfg.Log.File)
}
