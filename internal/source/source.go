// Package source adapts the provider's contact API behind a strictly
// read-only interface. The interface exposes list operations only, so a
// caller cannot perform a write against the provider by construction.
package source

import (
	"context"

	"github.com/kaivalyagandhi/catchup-app-sub016/internal/models"
)

// PageCursor addresses one page of provider results.
type PageCursor struct {
	// PageToken continues pagination within a run.
	PageToken string

	// SyncToken requests changes since a previous run. Empty for full sync.
	SyncToken string

	// RequestSyncToken asks the provider to issue a fresh sync token with
	// the final page. Set during full sync.
	RequestSyncToken bool
}

// Page is one page of provider results.
type Page struct {
	Contacts []models.Contact

	// External IDs the provider reports as deleted. Only populated on
	// incremental (sync-token) listings.
	DeletedExternalIDs []string

	// NextPageToken continues the listing; empty on the final page.
	NextPageToken string

	// NewSyncToken is the fresh resumption token, present on the final page
	// when one was requested.
	NewSyncToken string
}

// Source lists provider contacts and groups. An expired sync token surfaces
// as models.ErrResumeInvalidated rather than a generic error, because it
// triggers the orchestrator's full-resync recovery path.
type Source interface {
	ListPage(ctx context.Context, userID string, cursor PageCursor) (*Page, error)
	ListGroups(ctx context.Context, userID string) ([]models.ProviderGroup, error)
}
