// Package dedup matches incoming provider records against existing local
// contacts and produces create-or-merge instructions. Matching follows a
// fixed priority order, first match wins, and merges preserve locally
// authored data verbatim.
package dedup

import (
	"reflect"

	"github.com/kaivalyagandhi/catchup-app-sub016/internal/models"
)

// Op is the instruction kind.
type Op string

const (
	OpCreate Op = "create"
	OpMerge  Op = "merge"
)

// Instruction tells the store what to do with one incoming record.
type Instruction struct {
	Op Op

	// Create: the full record to insert.
	Contact models.Contact

	// Merge: the matched local contact ID and the fields to update.
	// An empty patch on an already-synced record is a no-op.
	ContactID string
	Patch     map[string]interface{}
}

// Index holds existing local contacts keyed by each match tier.
type Index struct {
	byExternalID map[string]*models.Contact
	byEmail      map[string]*models.Contact
	byPhone      map[string]*models.Contact
}

// NewIndex builds a match index from existing local contacts.
func NewIndex(existing []models.Contact) *Index {
	idx := &Index{
		byExternalID: make(map[string]*models.Contact),
		byEmail:      make(map[string]*models.Contact),
		byPhone:      make(map[string]*models.Contact),
	}
	for i := range existing {
		idx.Add(&existing[i])
	}
	return idx
}

// Add registers a contact, so records created earlier in a batch are
// matchable by later records in the same batch.
func (idx *Index) Add(c *models.Contact) {
	if c.ExternalID != "" {
		idx.byExternalID[c.ExternalID] = c
	}
	if email := NormalizeEmail(c.Email); email != "" {
		idx.byEmail[email] = c
	}
	if phone := NormalizePhone(c.Phone); phone != "" {
		idx.byPhone[phone] = c
	}
}

// Resolve matches an incoming record and emits a create or merge
// instruction. Match priority: external ID, then email, then phone; the
// search stops at the first tier that matches.
func (idx *Index) Resolve(incoming models.Contact) (Instruction, error) {
	if incoming.Name == "" && !incoming.HasContactMethod() {
		return Instruction{}, &models.ValidationError{
			ExternalID: incoming.ExternalID,
			Reason:     "no name and no contact method",
		}
	}

	existing := idx.match(incoming)
	if existing == nil {
		return Instruction{Op: OpCreate, Contact: incoming}, nil
	}

	return Instruction{
		Op:        OpMerge,
		ContactID: existing.ID,
		Patch:     mergePatch(existing, incoming),
	}, nil
}

func (idx *Index) match(incoming models.Contact) *models.Contact {
	if incoming.ExternalID != "" {
		if c, ok := idx.byExternalID[incoming.ExternalID]; ok {
			return c
		}
	}
	if email := NormalizeEmail(incoming.Email); email != "" {
		if c, ok := idx.byEmail[email]; ok {
			return c
		}
	}
	if phone := NormalizePhone(incoming.Phone); phone != "" {
		if c, ok := idx.byPhone[phone]; ok {
			return c
		}
	}
	return nil
}

// mergePatch collects every incoming field except those the user has edited
// locally, skipping values that are already current so a replayed batch
// produces an empty patch.
func mergePatch(existing *models.Contact, incoming models.Contact) map[string]interface{} {
	patch := make(map[string]interface{})

	set := func(field string, current, next interface{}) {
		if existing.IsLocallyEdited(field) {
			return
		}
		if reflect.DeepEqual(current, next) {
			return
		}
		patch[field] = next
	}

	set(models.FieldName, existing.Name, incoming.Name)
	set(models.FieldEmail, existing.Email, incoming.Email)
	set(models.FieldPhone, existing.Phone, incoming.Phone)
	set(models.FieldOrganization, existing.Organization, incoming.Organization)
	set(models.FieldLocations, existing.Locations, incoming.Locations)
	set(models.FieldGroups, existing.GroupExternalIDs, incoming.GroupExternalIDs)

	// Provider identity is adopted on email/phone tier matches and refreshed
	// when the provider reissues it. Never a user-editable field.
	if incoming.ExternalID != "" && existing.ExternalID != incoming.ExternalID {
		patch["external_id"] = incoming.ExternalID
	}
	if incoming.ETag != "" && existing.ETag != incoming.ETag {
		patch["etag"] = incoming.ETag
	}

	return patch
}
