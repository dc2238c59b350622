// Package vault stores per-user provider credentials and handles refresh
// mechanics. The sync engine only ever sees access tokens; refresh tokens
// never leave the vault.
package vault

import (
	"context"

	"golang.org/x/oauth2"
)

// TokenVault hands out usable access tokens for a user's provider
// connection. A user whose connection is disconnected (or was never made)
// gets models.ErrNotAuthenticated.
type TokenVault interface {
	// AccessToken returns a valid token, refreshing it if necessary.
	AccessToken(ctx context.Context, userID string) (*oauth2.Token, error)

	// Store saves a token obtained from a completed authorization flow and
	// marks the connection active.
	Store(ctx context.Context, userID string, token *oauth2.Token) error

	// ReportInvalid marks the user's connection disconnected so the
	// orchestrator stops scheduling runs until the user reconnects.
	ReportInvalid(ctx context.Context, userID string) error
}
