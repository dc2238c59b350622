package models

import "time"

// Field names used in LocallyEdited sets and merge patches.
const (
	FieldName         = "name"
	FieldEmail        = "email"
	FieldPhone        = "phone"
	FieldOrganization = "organization"
	FieldLocations    = "locations"
	FieldGroups       = "groups"
)

// Contact is a locally stored address-book record.
type Contact struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`

	// Provider identity. ExternalID is stable; ETag is an opaque revision
	// marker carried through for optimistic-concurrency awareness.
	ExternalID string `json:"external_id,omitempty"`
	ETag       string `json:"etag,omitempty"`

	Name         string   `json:"name"`
	Email        string   `json:"email,omitempty"`
	Phone        string   `json:"phone,omitempty"`
	Organization string   `json:"organization,omitempty"`
	Locations    []string `json:"locations,omitempty"`

	// Provider group memberships by group external ID.
	GroupExternalIDs []string `json:"group_external_ids,omitempty"`

	// Field names the user has overridden locally since the last sync.
	// Merges never overwrite these.
	LocallyEdited []string `json:"locally_edited,omitempty"`

	Archived     bool      `json:"archived,omitempty"`
	LastSyncedAt time.Time `json:"last_synced_at,omitempty"`
}

// HasContactMethod reports whether the record carries at least one way to
// reach the person. A record with no name and no contact method is malformed.
func (c *Contact) HasContactMethod() bool {
	return c.Email != "" || c.Phone != ""
}

// IsLocallyEdited reports whether the named field is user-overridden.
func (c *Contact) IsLocallyEdited(field string) bool {
	for _, f := range c.LocallyEdited {
		if f == field {
			return true
		}
	}
	return false
}

// MarkLocallyEdited records a local override for the named field.
func (c *Contact) MarkLocallyEdited(field string) {
	if !c.IsLocallyEdited(field) {
		c.LocallyEdited = append(c.LocallyEdited, field)
	}
}
