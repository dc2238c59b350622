// Package client wires the configured backends into a ready-to-use API.
package client

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	people "google.golang.org/api/people/v1"

	"github.com/kaivalyagandhi/catchup-app-sub016/internal/config"
	"github.com/kaivalyagandhi/catchup-app-sub016/internal/events"
	"github.com/kaivalyagandhi/catchup-app-sub016/internal/ratelimit"
	"github.com/kaivalyagandhi/catchup-app-sub016/internal/services/sync"
	"github.com/kaivalyagandhi/catchup-app-sub016/internal/source"
	"github.com/kaivalyagandhi/catchup-app-sub016/internal/store"
	"github.com/kaivalyagandhi/catchup-app-sub016/internal/vault"
)

// Client provides the high-level API for catchup operations.
type Client struct {
	Sync  *sync.Service
	Store store.Store
	Vault vault.TokenVault

	config *config.Config
	logger *events.Logger
	closer func() error
}

// OAuthConfig builds the provider authorization config. The requested scope
// is read-only; the client never holds a grant that could modify provider
// data.
func OAuthConfig(cfg config.ProviderConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       []string{people.ContactsReadonlyScope},
		Endpoint:     google.Endpoint,
	}
}

// New creates a client from config.
func New(ctx context.Context, cfg *config.Config, logger *events.Logger) (*Client, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	tokenVault, err := vault.NewFileVault(cfg.Storage.VaultDir, OAuthConfig(cfg.Provider), logger)
	if err != nil {
		return nil, fmt.Errorf("open token vault: %w", err)
	}

	contacts, err := store.NewSQLiteStore(cfg.Storage.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open contact store: %w", err)
	}

	var (
		st       store.Store
		counters ratelimit.CounterStore
	)

	switch cfg.Storage.Backend {
	case config.BackendDynamoDB:
		cursors, err := store.NewDynamoCursorStore(ctx, cfg.AWS.CursorTable, cfg.AWS.Region, logger)
		if err != nil {
			contacts.Close()
			return nil, fmt.Errorf("open cursor store: %w", err)
		}
		st = store.Compose(cursors, contacts)

		counters, err = ratelimit.NewDynamoCounter(ctx, cfg.AWS.CounterTable, cfg.AWS.Region, logger)
		if err != nil {
			contacts.Close()
			return nil, fmt.Errorf("open counter store: %w", err)
		}

	default:
		st = contacts
		counters = ratelimit.NewMemoryCounter()
	}

	limiter := ratelimit.NewLimiter(counters, cfg.RateLimit, logger)
	src := source.NewPeopleSource(tokenVault, limiter, cfg.Provider, logger)
	syncService := sync.NewService(st, src, tokenVault, cfg.Sync, logger)

	return &Client{
		Sync:   syncService,
		Store:  st,
		Vault:  tokenVault,
		config: cfg,
		logger: logger,
		closer: contacts.Close,
	}, nil
}

// Close releases the client's resources.
func (c *Client) Close() error {
	if c.closer != nil {
		return c.closer()
	}
	return nil
}
