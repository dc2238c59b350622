package sync

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaivalyagandhi/catchup-app-sub016/internal/config"
	"github.com/kaivalyagandhi/catchup-app-sub016/internal/events"
	"github.com/kaivalyagandhi/catchup-app-sub016/internal/models"
	"github.com/kaivalyagandhi/catchup-app-sub016/internal/source"
	"github.com/kaivalyagandhi/catchup-app-sub016/internal/store"
)

func newTestOrchestrator(t *testing.T, st store.Store, src source.Source) *Orchestrator {
	t.Helper()

	var buf bytes.Buffer
	logger := events.NewTestLogger(events.ErrorLevel, "text", &buf)

	return NewOrchestrator(st, src, config.SyncConfig{
		BatchSize:      2,
		ClaimStaleness: 15 * time.Minute,
		RetryAttempts:  2,
		RetryDelay:     time.Millisecond,
	}, logger)
}

func contact(externalID, name, email string) models.Contact {
	return models.Contact{ExternalID: externalID, Name: name, Email: email}
}

func TestFullSyncPaginates(t *testing.T) {
	st := store.NewMockStore()
	src := source.NewMockSource()
	src.Pages = []*source.Page{
		{
			Contacts:      []models.Contact{contact("people/c1", "Ada", "ada@example.com"), contact("people/c2", "Grace", "grace@example.com")},
			NextPageToken: "page-2",
		},
		{
			Contacts:     []models.Contact{contact("people/c3", "Alan", "alan@example.com")},
			NewSyncToken: "sync-token-1",
		},
	}

	o := newTestOrchestrator(t, st, src)
	result, err := o.Run(context.Background(), "user-1", models.SyncFull, "key-1")
	require.NoError(t, err)

	assert.Equal(t, 3, result.ContactsCreated)
	assert.Equal(t, 0, result.ContactsUpdated)
	assert.Equal(t, "sync-token-1", result.SyncToken)
	assert.Empty(t, result.Errors)

	require.Len(t, src.PageRequests, 2)
	assert.True(t, src.PageRequests[0].RequestSyncToken, "full sync must request a fresh resumption token")
	assert.Equal(t, "page-2", src.PageRequests[1].PageToken)

	cursor, err := st.ReadCursor(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusIdle, cursor.Status)
	assert.Equal(t, "sync-token-1", cursor.SyncToken)
	assert.Empty(t, cursor.PageToken)
	assert.Equal(t, int64(3), cursor.TotalContactsSynced)
	assert.False(t, cursor.LastFullSyncAt.IsZero())
	assert.Equal(t, "key-1", cursor.LastIdempotencyKey)
}

func TestFullSyncReplayIsIdempotent(t *testing.T) {
	st := store.NewMockStore()
	src := source.NewMockSource()
	src.Pages = []*source.Page{{
		Contacts:     []models.Contact{contact("people/c1", "Ada", "ada@example.com")},
		NewSyncToken: "sync-token-1",
	}}

	o := newTestOrchestrator(t, st, src)

	first, err := o.Run(context.Background(), "user-1", models.SyncFull, "key-1")
	require.NoError(t, err)
	assert.Equal(t, 1, first.ContactsCreated)

	second, err := o.Run(context.Background(), "user-1", models.SyncFull, "key-2")
	require.NoError(t, err)
	assert.Equal(t, 0, second.ContactsCreated, "replayed records merge, not duplicate")
	assert.Equal(t, 0, second.ContactsUpdated, "unchanged records produce empty patches")

	assert.Len(t, st.AllContacts("user-1"), 1)
}

func TestIncrementalWithoutTokenRunsFull(t *testing.T) {
	st := store.NewMockStore()
	src := source.NewMockSource()
	src.Pages = []*source.Page{{NewSyncToken: "sync-token-1"}}

	o := newTestOrchestrator(t, st, src)
	result, err := o.Run(context.Background(), "user-1", models.SyncIncremental, "key-1")
	require.NoError(t, err)

	assert.Equal(t, models.SyncFull, result.SyncType)
	require.Len(t, src.PageRequests, 1)
	assert.Empty(t, src.PageRequests[0].SyncToken)
	assert.True(t, src.PageRequests[0].RequestSyncToken)
}

func TestIncrementalArchivesDeletions(t *testing.T) {
	st := store.NewMockStore()
	src := source.NewMockSource()

	// Seed a prior full sync.
	src.Pages = []*source.Page{{
		Contacts:     []models.Contact{contact("people/c1", "Ada", "ada@example.com"), contact("people/c2", "Grace", "grace@example.com")},
		NewSyncToken: "sync-token-1",
	}}
	o := newTestOrchestrator(t, st, src)
	_, err := o.Run(context.Background(), "user-1", models.SyncFull, "key-1")
	require.NoError(t, err)

	src.Pages = []*source.Page{{
		Contacts:           []models.Contact{contact("people/c2", "Grace Hopper", "grace@example.com")},
		DeletedExternalIDs: []string{"people/c1"},
		NewSyncToken:       "sync-token-2",
	}}

	result, err := o.Run(context.Background(), "user-1", models.SyncIncremental, "key-2")
	require.NoError(t, err)

	assert.Equal(t, 0, result.ContactsCreated)
	assert.Equal(t, 1, result.ContactsUpdated)
	assert.Equal(t, 1, result.ContactsArchived)

	live, err := st.ListContacts(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "Grace Hopper", live[0].Name)

	all := st.AllContacts("user-1")
	assert.Len(t, all, 2, "deletion archives, never removes the row")

	cursor, err := st.ReadCursor(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "sync-token-2", cursor.SyncToken)
	assert.False(t, cursor.LastIncrementalSyncAt.IsZero())
}

func TestIncrementalRecoversFromInvalidatedToken(t *testing.T) {
	st := store.NewMockStore()
	src := source.NewMockSource()

	cursor := models.NewSyncCursor("user-1")
	cursor.SyncToken = "stale-token"
	st.SeedCursor(cursor)

	src.ErrAtPage = 0
	src.PageErr = models.ErrResumeInvalidated
	src.Pages = []*source.Page{{
		Contacts:     []models.Contact{contact("people/c1", "Ada", "ada@example.com")},
		NewSyncToken: "fresh-token",
	}}

	o := newTestOrchestrator(t, st, src)
	result, err := o.Run(context.Background(), "user-1", models.SyncIncremental, "key-1")
	require.NoError(t, err, "token invalidation is recovery, not failure")

	assert.True(t, result.RecoveredFull)
	assert.Equal(t, 1, result.ContactsCreated)
	assert.Equal(t, "fresh-token", result.SyncToken)

	got, err := st.ReadCursor(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusIdle, got.Status)
	assert.Equal(t, "fresh-token", got.SyncToken)
	assert.False(t, got.LastFullSyncAt.IsZero(), "recovered run counts as a full sync")
}

func TestConcurrentClaimRejected(t *testing.T) {
	st := store.NewMockStore()
	src := source.NewMockSource()

	cursor := models.NewSyncCursor("user-1")
	cursor.Status = models.StatusFullRunning
	cursor.ClaimedAt = time.Now().UTC()
	st.SeedCursor(cursor)

	o := newTestOrchestrator(t, st, src)
	_, err := o.Run(context.Background(), "user-1", models.SyncFull, "key-1")
	assert.ErrorIs(t, err, models.ErrSyncInProgress)
	assert.Empty(t, src.PageRequests, "rejected invocation must not touch the provider")
}

func TestStaleClaimReclaimed(t *testing.T) {
	st := store.NewMockStore()
	src := source.NewMockSource()
	src.Pages = []*source.Page{{NewSyncToken: "sync-token-1"}}

	cursor := models.NewSyncCursor("user-1")
	cursor.Status = models.StatusFullRunning
	cursor.ClaimedAt = time.Now().UTC().Add(-time.Hour)
	cursor.PageToken = "page-3"
	st.SeedCursor(cursor)

	o := newTestOrchestrator(t, st, src)
	result, err := o.Run(context.Background(), "user-1", models.SyncFull, "key-1")
	require.NoError(t, err)
	assert.NotNil(t, result)

	require.NotEmpty(t, src.PageRequests)
	assert.Equal(t, "page-3", src.PageRequests[0].PageToken, "reclaimed run resumes mid-listing")

	got, err := st.ReadCursor(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusIdle, got.Status)
}

func TestDuplicateIdempotencyKeyIsNoOp(t *testing.T) {
	st := store.NewMockStore()
	src := source.NewMockSource()
	src.Pages = []*source.Page{{
		Contacts:     []models.Contact{contact("people/c1", "Ada", "ada@example.com")},
		NewSyncToken: "sync-token-1",
	}}

	o := newTestOrchestrator(t, st, src)
	_, err := o.Run(context.Background(), "user-1", models.SyncFull, "key-1")
	require.NoError(t, err)
	requests := len(src.PageRequests)

	result, err := o.Run(context.Background(), "user-1", models.SyncFull, "key-1")
	require.NoError(t, err)
	assert.Equal(t, 0, result.ContactsCreated)
	assert.Len(t, src.PageRequests, requests, "duplicate delivery must not re-run the sync")
}

func TestMalformedRecordsAreSkippedNotFatal(t *testing.T) {
	st := store.NewMockStore()
	src := source.NewMockSource()
	src.Pages = []*source.Page{{
		Contacts: []models.Contact{
			contact("people/c1", "Ada", "ada@example.com"),
			{ExternalID: "people/bad"}, // no name, no contact method
			contact("people/c2", "Grace", "grace@example.com"),
		},
		NewSyncToken: "sync-token-1",
	}}

	o := newTestOrchestrator(t, st, src)
	result, err := o.Run(context.Background(), "user-1", models.SyncFull, "key-1")
	require.NoError(t, err)

	assert.Equal(t, 2, result.ContactsCreated)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "people/bad", result.Errors[0].ExternalID)

	cursor, err := st.ReadCursor(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusIdle, cursor.Status, "record errors never fail the run")
}

func TestDuplicatesWithinOnePageMerge(t *testing.T) {
	st := store.NewMockStore()
	src := source.NewMockSource()
	src.Pages = []*source.Page{{
		Contacts: []models.Contact{
			{ExternalID: "people/c1", Name: "Ada", Email: "ada@example.com", Phone: "+15551230001"},
			contact("", "Ada L.", "ADA@example.com"), // same email, case-folded
			{Name: "Ada", Phone: "+1 (555) 123-0001"}, // same phone, formatted differently
			contact("people/c9", "Someone Else", "else@example.com"),
		},
		NewSyncToken: "sync-token-1",
	}}

	o := newTestOrchestrator(t, st, src)
	result, err := o.Run(context.Background(), "user-1", models.SyncFull, "key-1")
	require.NoError(t, err)

	assert.Equal(t, 2, result.ContactsCreated, "duplicates collapse onto the first record")
	assert.Len(t, st.AllContacts("user-1"), 2)
}

func TestRunFailureMarksCursorFailed(t *testing.T) {
	st := store.NewMockStore()
	st.ApplyBatchErr = models.ErrDatastoreFatal

	src := source.NewMockSource()
	src.Pages = []*source.Page{{
		Contacts:     []models.Contact{contact("people/c1", "Ada", "ada@example.com")},
		NewSyncToken: "sync-token-1",
	}}

	o := newTestOrchestrator(t, st, src)
	_, err := o.Run(context.Background(), "user-1", models.SyncFull, "key-1")
	require.Error(t, err)

	var syncErr *models.SyncError
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, models.ErrCodeDatastoreFatal, syncErr.Code)

	cursor, readErr := st.ReadCursor(context.Background(), "user-1")
	require.NoError(t, readErr)
	assert.Equal(t, models.StatusFailed, cursor.Status)
	assert.NotEmpty(t, cursor.LastError)
}

func TestFailedRunRetriesFromFailedStatus(t *testing.T) {
	st := store.NewMockStore()
	src := source.NewMockSource()
	src.Pages = []*source.Page{{
		Contacts:     []models.Contact{contact("people/c1", "Ada", "ada@example.com")},
		NewSyncToken: "sync-token-1",
	}}

	cursor := models.NewSyncCursor("user-1")
	cursor.Status = models.StatusFailed
	cursor.LastError = "transient failure in datastore: boom"
	cursor.PageToken = "page-3"
	st.SeedCursor(cursor)

	o := newTestOrchestrator(t, st, src)
	result, err := o.Run(context.Background(), "user-1", models.SyncFull, "key-1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.ContactsCreated)

	// A failed cursor is retried like an idle one: pagination restarts
	// instead of resuming the dead run's page token.
	require.NotEmpty(t, src.PageRequests)
	assert.Empty(t, src.PageRequests[0].PageToken)

	got, err := st.ReadCursor(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusIdle, got.Status)
	assert.Empty(t, got.LastError)
}

func TestTransientBatchFailureRetried(t *testing.T) {
	st := store.NewMockStore()
	st.ApplyBatchErrAt = 1

	src := source.NewMockSource()
	src.Pages = []*source.Page{{
		Contacts:     []models.Contact{contact("people/c1", "Ada", "ada@example.com")},
		NewSyncToken: "sync-token-1",
	}}

	o := newTestOrchestrator(t, st, src)
	result, err := o.Run(context.Background(), "user-1", models.SyncFull, "key-1")
	require.NoError(t, err, "transient datastore failure retries within the run")
	assert.Equal(t, 1, result.ContactsCreated)
}

func TestGroupSuggestionsStayPending(t *testing.T) {
	st := store.NewMockStore()
	require.NoError(t, st.CreateGroup(context.Background(), &models.Group{
		ID: "grp-1", UserID: "user-1", Name: "Work Friends",
	}))

	src := source.NewMockSource()
	src.Groups = []models.ProviderGroup{
		{ExternalID: "contactGroups/work", Name: "Work Friends"},
		{ExternalID: "contactGroups/chess", Name: "Chess Club"},
	}
	src.Pages = []*source.Page{{
		Contacts: []models.Contact{{
			ExternalID:       "people/c1",
			Name:             "Ada",
			Email:            "ada@example.com",
			GroupExternalIDs: []string{"contactGroups/work"},
		}},
		NewSyncToken: "sync-token-1",
	}}

	o := newTestOrchestrator(t, st, src)
	result, err := o.Run(context.Background(), "user-1", models.SyncFull, "key-1")
	require.NoError(t, err)

	assert.Equal(t, 2, result.GroupsImported)
	assert.Equal(t, 2, result.SuggestionsGenerated)

	mappings, err := st.ListGroupMappings(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, mappings, 2)
	for _, m := range mappings {
		assert.Equal(t, models.MappingPending, m.Status)
	}

	assert.Empty(t, st.GroupMembers("user-1", "grp-1"),
		"membership must wait for human approval")
}

func TestApprovedMappingAppliesMembership(t *testing.T) {
	st := store.NewMockStore()
	require.NoError(t, st.CreateGroup(context.Background(), &models.Group{
		ID: "grp-1", UserID: "user-1", Name: "Work Friends",
	}))
	require.NoError(t, st.UpsertGroupMapping(context.Background(), &models.GroupMapping{
		UserID:          "user-1",
		ExternalID:      "contactGroups/work",
		ProviderName:    "Work Friends",
		LocalGroupID:    "grp-1",
		Status:          models.MappingApproved,
		SuggestedAction: models.ActionMapToExisting,
	}))

	src := source.NewMockSource()
	src.Groups = []models.ProviderGroup{
		{ExternalID: "contactGroups/work", Name: "Work Friends"},
	}
	src.Pages = []*source.Page{{
		Contacts: []models.Contact{{
			ExternalID:       "people/c1",
			Name:             "Ada",
			Email:            "ada@example.com",
			GroupExternalIDs: []string{"contactGroups/work"},
		}},
		NewSyncToken: "sync-token-1",
	}}

	o := newTestOrchestrator(t, st, src)
	result, err := o.Run(context.Background(), "user-1", models.SyncFull, "key-1")
	require.NoError(t, err)
	assert.Equal(t, 0, result.SuggestionsGenerated, "reviewed mappings are not regenerated")

	members := st.GroupMembers("user-1", "grp-1")
	require.Len(t, members, 1)

	contacts := st.AllContacts("user-1")
	require.Len(t, contacts, 1)
	assert.Equal(t, contacts[0].ID, members[0])
}

func TestLocalEditsSurviveIncrementalSync(t *testing.T) {
	st := store.NewMockStore()
	src := source.NewMockSource()
	src.Pages = []*source.Page{{
		Contacts:     []models.Contact{contact("people/c1", "Ada", "ada@example.com")},
		NewSyncToken: "sync-token-1",
	}}

	o := newTestOrchestrator(t, st, src)
	_, err := o.Run(context.Background(), "user-1", models.SyncFull, "key-1")
	require.NoError(t, err)

	// User renames the contact locally.
	contacts := st.AllContacts("user-1")
	require.Len(t, contacts, 1)
	st.SeedLocalEdit("user-1", contacts[0].ID, models.FieldName, "Ada L.")

	src.Pages = []*source.Page{{
		Contacts:     []models.Contact{contact("people/c1", "Countess Lovelace", "ada@example.com")},
		NewSyncToken: "sync-token-2",
	}}

	_, err = o.Run(context.Background(), "user-1", models.SyncIncremental, "key-2")
	require.NoError(t, err)

	contacts = st.AllContacts("user-1")
	require.Len(t, contacts, 1)
	assert.Equal(t, "Ada L.", contacts[0].Name, "local edit wins over provider data")
}
