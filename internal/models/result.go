package models

import "time"

// RecordError is a failure scoped to a single record. It never aborts a run.
type RecordError struct {
	ExternalID string `json:"external_id,omitempty"`
	Reason     string `json:"reason"`
}

// SyncResult summarizes one sync run.
type SyncResult struct {
	UserID   string   `json:"user_id"`
	SyncType SyncType `json:"sync_type"`

	ContactsCreated      int `json:"contacts_created"`
	ContactsUpdated      int `json:"contacts_updated"`
	ContactsArchived     int `json:"contacts_archived"`
	GroupsImported       int `json:"groups_imported"`
	SuggestionsGenerated int `json:"suggestions_generated"`

	// New provider resumption token after a successful run.
	SyncToken string `json:"sync_token,omitempty"`

	// Set when an incremental run hit an invalidated resume token and
	// recovered by falling through to a full sync.
	RecoveredFull bool `json:"recovered_full,omitempty"`

	Duration time.Duration `json:"duration"`
	Errors   []RecordError `json:"errors,omitempty"`
}

// AddRecordError appends a record-scoped error to the result.
func (r *SyncResult) AddRecordError(externalID, reason string) {
	r.Errors = append(r.Errors, RecordError{ExternalID: externalID, Reason: reason})
}

// Processed returns the number of records the run touched.
func (r *SyncResult) Processed() int {
	return r.ContactsCreated + r.ContactsUpdated + r.ContactsArchived
}
