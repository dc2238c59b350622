// Package store persists contacts, groups, mappings, and sync cursors.
package store

import (
	"context"

	"github.com/kaivalyagandhi/catchup-app-sub016/internal/dedup"
	"github.com/kaivalyagandhi/catchup-app-sub016/internal/models"
)

// CursorStore persists per-user sync cursors. Status writes go through
// compare-and-swap only: the cursor's status field is the single piece of
// cross-process mutual exclusion in the system, and it is never guarded by
// an application-level mutex.
type CursorStore interface {
	// ReadCursor returns the user's cursor, or models.ErrCursorNotFound.
	ReadCursor(ctx context.Context, userID string) (*models.SyncCursor, error)

	// CASWriteCursor writes the cursor if the currently stored status is
	// one of expected. A missing row counts as StatusIdle. On a status
	// mismatch it returns models.ErrCursorConflict and writes nothing.
	CASWriteCursor(ctx context.Context, userID string, expected []models.SyncStatus, cursor *models.SyncCursor) error
}

// ContactStore persists the local address book.
type ContactStore interface {
	// ListContacts returns the user's non-archived contacts.
	ListContacts(ctx context.Context, userID string) ([]models.Contact, error)

	// ApplyBatch applies create/merge instructions as one batched write.
	// Merges with an empty patch only refresh last_synced_at and are not
	// counted as updates.
	ApplyBatch(ctx context.Context, userID string, instructions []dedup.Instruction) (created, updated int, err error)

	// ArchiveContact soft-deletes by provider external ID. Returns false
	// when no live contact matched.
	ArchiveContact(ctx context.Context, userID, externalID string) (bool, error)

	// ListGroups returns local groups with member external IDs populated.
	ListGroups(ctx context.Context, userID string) ([]models.Group, error)
	CreateGroup(ctx context.Context, group *models.Group) error
	AddGroupMember(ctx context.Context, userID, groupID, contactID string) error

	ListGroupMappings(ctx context.Context, userID string) ([]models.GroupMapping, error)
	UpsertGroupMapping(ctx context.Context, mapping *models.GroupMapping) error
}

// Store is the full persistence surface used by the orchestrator.
type Store interface {
	CursorStore
	ContactStore
}

type composite struct {
	CursorStore
	ContactStore
}

// Compose pairs a cursor backend with a contact backend. Contacts always
// live locally; the cursor may live in DynamoDB so distributed workers share
// one claim.
func Compose(cursors CursorStore, contacts ContactStore) Store {
	return &composite{CursorStore: cursors, ContactStore: contacts}
}
