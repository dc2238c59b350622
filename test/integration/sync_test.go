package integration

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaivalyagandhi/catchup-app-sub016/internal/config"
	"github.com/kaivalyagandhi/catchup-app-sub016/internal/events"
	"github.com/kaivalyagandhi/catchup-app-sub016/internal/models"
	syncsvc "github.com/kaivalyagandhi/catchup-app-sub016/internal/services/sync"
	"github.com/kaivalyagandhi/catchup-app-sub016/internal/source"
	"github.com/kaivalyagandhi/catchup-app-sub016/internal/store"
)

// TestSyncLifecycle runs full sync, human review, and incremental sync
// against the real SQLite store.
func TestSyncLifecycle(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.ErrorLevel, "text", &buf)

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "contacts.db"), logger)
	require.NoError(t, err)
	defer st.Close()

	src := source.NewMockSource()
	src.Groups = []models.ProviderGroup{
		{
			ExternalID:        "contactGroups/college",
			Name:              "College",
			MemberExternalIDs: []string{"people/c1", "people/c2"},
		},
	}
	src.Pages = []*source.Page{
		{
			Contacts: []models.Contact{
				{
					ExternalID:       "people/c1",
					ETag:             "e1",
					Name:             "Ada Lovelace",
					Email:            "ada@example.com",
					GroupExternalIDs: []string{"contactGroups/college"},
				},
				{
					ExternalID: "people/c2",
					ETag:       "e2",
					Name:       "Grace Hopper",
					Email:      "grace@example.com",
					Phone:      "+1 212 555 0100",
				},
			},
			NextPageToken: "page-2",
		},
		{
			Contacts: []models.Contact{
				{
					ExternalID: "people/c3",
					ETag:       "e3",
					Name:       "Alan Kay",
					Email:      "alan@example.com",
				},
			},
			NewSyncToken: "sync-token-1",
		},
	}

	o := syncsvc.NewOrchestrator(st, src, config.SyncConfig{
		BatchSize:      2,
		ClaimStaleness: 15 * time.Minute,
		RetryAttempts:  2,
		RetryDelay:     time.Millisecond,
	}, logger)

	// Initial full sync.
	result, err := o.Run(ctx, "user-1", models.SyncFull, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 3, result.ContactsCreated)
	assert.Equal(t, 1, result.GroupsImported)
	assert.Equal(t, 1, result.SuggestionsGenerated)

	// The suggestion is pending; approving it creates the local group.
	mappings, err := st.ListGroupMappings(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, mappings, 1)
	mapping := mappings[0]
	assert.Equal(t, models.MappingPending, mapping.Status)
	assert.Equal(t, models.ActionCreateNew, mapping.SuggestedAction)

	group := &models.Group{UserID: "user-1", Name: mapping.ProviderName}
	require.NoError(t, st.CreateGroup(ctx, group))
	mapping.LocalGroupID = group.ID
	mapping.Status = models.MappingApproved
	require.NoError(t, st.UpsertGroupMapping(ctx, &mapping))

	// Provider renames one contact, deletes another.
	src.Pages = []*source.Page{{
		Contacts: []models.Contact{
			{
				ExternalID:       "people/c1",
				ETag:             "e1b",
				Name:             "Ada King",
				Email:            "ada@example.com",
				GroupExternalIDs: []string{"contactGroups/college"},
			},
		},
		DeletedExternalIDs: []string{"people/c3"},
		NewSyncToken:       "sync-token-2",
	}}

	result, err = o.Run(ctx, "user-1", models.SyncIncremental, "run-2")
	require.NoError(t, err)
	assert.Equal(t, 0, result.ContactsCreated)
	assert.Equal(t, 1, result.ContactsUpdated)
	assert.Equal(t, 1, result.ContactsArchived)
	require.NotEmpty(t, src.PageRequests)
	assert.Equal(t, "sync-token-1",
		src.PageRequests[len(src.PageRequests)-1].SyncToken)

	// Approved mapping applied membership during the incremental run.
	groups, err := st.ListGroups(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, []string{"people/c1"}, groups[0].MemberExternalIDs)

	// Two live contacts remain; the archived one is gone from listings.
	contacts, err := st.ListContacts(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, contacts, 2)
	for _, c := range contacts {
		if c.ExternalID == "people/c1" {
			assert.Equal(t, "Ada King", c.Name)
			assert.Equal(t, "e1b", c.ETag)
		}
	}

	cursor, err := st.ReadCursor(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusIdle, cursor.Status)
	assert.Equal(t, "sync-token-2", cursor.SyncToken)
	assert.Equal(t, int64(5), cursor.TotalContactsSynced)
}
