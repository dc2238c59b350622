package models

import "time"

// SyncStatus is the per-user sync state machine status.
type SyncStatus string

const (
	StatusIdle               SyncStatus = "idle"
	StatusFullRunning        SyncStatus = "full_running"
	StatusIncrementalRunning SyncStatus = "incremental_running"
	StatusFailed             SyncStatus = "failed"
)

// SyncType selects full or incremental synchronization.
type SyncType string

const (
	SyncFull        SyncType = "full"
	SyncIncremental SyncType = "incremental"
)

// SyncCursor tracks per-user synchronization progress. The orchestrator is
// the sole writer of Status, and every status transition goes through a
// compare-and-swap write.
type SyncCursor struct {
	UserID string `json:"user_id"`

	// Provider-issued resumption token. Opaque; invalidated by the provider
	// unpredictably.
	SyncToken string `json:"sync_token,omitempty"`

	// In-flight page token, persisted after every page so an interrupted
	// run resumes rather than restarts.
	PageToken string `json:"page_token,omitempty"`

	Status                SyncStatus `json:"status"`
	LastFullSyncAt        time.Time  `json:"last_full_sync_at,omitempty"`
	LastIncrementalSyncAt time.Time  `json:"last_incremental_sync_at,omitempty"`
	TotalContactsSynced   int64      `json:"total_contacts_synced"`
	LastError             string     `json:"last_error,omitempty"`

	// Idempotency key of the last accepted invocation; a redelivery carrying
	// the same key against a terminal status is a no-op.
	LastIdempotencyKey string `json:"last_idempotency_key,omitempty"`

	// Claim timestamp. A running status older than the staleness timeout is
	// reclaimable by a fresh invocation.
	ClaimedAt time.Time `json:"claimed_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// NewSyncCursor creates an idle cursor for a user.
func NewSyncCursor(userID string) *SyncCursor {
	return &SyncCursor{
		UserID: userID,
		Status: StatusIdle,
	}
}

// Running reports whether a sync currently holds the cursor.
func (c *SyncCursor) Running() bool {
	return c.Status == StatusFullRunning || c.Status == StatusIncrementalRunning
}

// StaleClaim reports whether a running claim has outlived the staleness
// timeout and may be reclaimed.
func (c *SyncCursor) StaleClaim(timeout time.Duration, now time.Time) bool {
	if !c.Running() {
		return false
	}
	if c.ClaimedAt.IsZero() {
		return true
	}
	return now.Sub(c.ClaimedAt) > timeout
}
