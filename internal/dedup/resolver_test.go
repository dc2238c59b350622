package dedup_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaivalyagandhi/catchup-app-sub016/internal/dedup"
	"github.com/kaivalyagandhi/catchup-app-sub016/internal/models"
)

func existingContacts() []models.Contact {
	return []models.Contact{
		{
			ID:         "local-1",
			ExternalID: "people/ext-1",
			Name:       "Ada Lovelace",
			Email:      "ada@example.com",
			Phone:      "+15551230001",
		},
		{
			ID:    "local-2",
			Name:  "Grace Hopper",
			Email: "Grace.Hopper@Example.com",
		},
		{
			ID:    "local-3",
			Name:  "Alan Turing",
			Phone: "(555) 123-0003",
		},
	}
}

func TestResolveMatchTiers(t *testing.T) {
	idx := dedup.NewIndex(existingContacts())

	t.Run("external id wins over email", func(t *testing.T) {
		instr, err := idx.Resolve(models.Contact{
			ExternalID: "people/ext-1",
			Name:       "Ada L.",
			Email:      "grace.hopper@example.com", // would match local-2 by email
		})
		require.NoError(t, err)
		assert.Equal(t, dedup.OpMerge, instr.Op)
		assert.Equal(t, "local-1", instr.ContactID)
	})

	t.Run("email match is case-insensitive", func(t *testing.T) {
		instr, err := idx.Resolve(models.Contact{
			ExternalID: "people/ext-new",
			Name:       "Grace",
			Email:      "  GRACE.HOPPER@example.COM ",
		})
		require.NoError(t, err)
		assert.Equal(t, dedup.OpMerge, instr.Op)
		assert.Equal(t, "local-2", instr.ContactID)
	})

	t.Run("phone match uses canonical digits", func(t *testing.T) {
		instr, err := idx.Resolve(models.Contact{
			ExternalID: "people/ext-other",
			Name:       "Alan",
			Phone:      "555.123.0003",
		})
		require.NoError(t, err)
		assert.Equal(t, dedup.OpMerge, instr.Op)
		assert.Equal(t, "local-3", instr.ContactID)
	})

	t.Run("no match creates", func(t *testing.T) {
		instr, err := idx.Resolve(models.Contact{
			ExternalID: "people/ext-9",
			Name:       "Katherine Johnson",
			Email:      "kj@example.com",
		})
		require.NoError(t, err)
		assert.Equal(t, dedup.OpCreate, instr.Op)
		assert.Equal(t, "Katherine Johnson", instr.Contact.Name)
	})
}

func TestMergePreservesLocalEdits(t *testing.T) {
	existing := existingContacts()
	existing[0].LocallyEdited = []string{models.FieldName, models.FieldPhone}
	idx := dedup.NewIndex(existing)

	instr, err := idx.Resolve(models.Contact{
		ExternalID:   "people/ext-1",
		Name:         "Augusta Ada King",
		Phone:        "+15559990000",
		Organization: "Analytical Engines Ltd",
	})
	require.NoError(t, err)
	require.Equal(t, dedup.OpMerge, instr.Op)

	assert.NotContains(t, instr.Patch, models.FieldName)
	assert.NotContains(t, instr.Patch, models.FieldPhone)
	assert.Equal(t, "Analytical Engines Ltd", instr.Patch[models.FieldOrganization])
}

func TestReplayIsIdempotent(t *testing.T) {
	batch := []models.Contact{
		{ExternalID: "people/ext-1", Name: "Ada Lovelace", Email: "ada@example.com", Phone: "+15551230001"},
		{ExternalID: "people/ext-5", Name: "New Person", Email: "new@example.com"},
	}

	// First pass against the existing store.
	idx := dedup.NewIndex(existingContacts())
	var created []models.Contact
	for _, in := range batch {
		instr, err := idx.Resolve(in)
		require.NoError(t, err)
		if instr.Op == dedup.OpCreate {
			c := instr.Contact
			c.ID = "local-new"
			created = append(created, c)
			idx.Add(&created[len(created)-1])
		}
	}
	require.Len(t, created, 1)

	// Second pass over a store that already absorbed the batch.
	synced := append(existingContacts(), created...)
	idx = dedup.NewIndex(synced)

	for _, in := range batch {
		instr, err := idx.Resolve(in)
		require.NoError(t, err)
		assert.Equal(t, dedup.OpMerge, instr.Op)
		assert.Empty(t, instr.Patch, "replayed record must produce a no-op patch")
	}
}

func TestMalformedRecordIsSkippedNotFatal(t *testing.T) {
	idx := dedup.NewIndex(existingContacts())

	_, err := idx.Resolve(models.Contact{ExternalID: "people/ext-bad"})
	var ve *models.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "people/ext-bad", ve.ExternalID)

	// The rest of the batch still resolves.
	instr, err := idx.Resolve(models.Contact{ExternalID: "people/ext-1", Name: "Ada"})
	require.NoError(t, err)
	assert.Equal(t, dedup.OpMerge, instr.Op)
}

func TestThreeRecordScenario(t *testing.T) {
	// A matches by externalId, B by email only, C matches nothing.
	idx := dedup.NewIndex(existingContacts())

	batch := []models.Contact{
		{ExternalID: "people/ext-1", Name: "Ada Lovelace"},
		{ExternalID: "people/ext-b", Name: "Grace Hopper", Email: "grace.hopper@example.com"},
		{ExternalID: "people/ext-c", Name: "Dorothy Vaughan", Email: "dv@example.com"},
	}

	var creates, merges int
	for _, in := range batch {
		instr, err := idx.Resolve(in)
		require.NoError(t, err)
		switch instr.Op {
		case dedup.OpCreate:
			creates++
		case dedup.OpMerge:
			merges++
		}
	}

	assert.Equal(t, 1, creates)
	assert.Equal(t, 2, merges)
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in, out string
	}{
		{"(555) 123-0003", "5551230003"},
		{"+1 555 123 0003", "+15551230003"},
		{"0044 20 7946 0958", "+442079460958"},
		{"555.123.0003", "5551230003"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.out, dedup.NormalizePhone(tt.in), tt.in)
	}
}
