package models

import (
	"context"
	"errors"
	"fmt"
)

// Error codes for the sync failure taxonomy.
const (
	ErrCodeAuthExpired        = "AUTH_EXPIRED"
	ErrCodeRateLimited        = "RATE_LIMITED"
	ErrCodeResumeInvalidated  = "RESUME_INVALIDATED"
	ErrCodeNetworkTransient   = "NETWORK_TRANSIENT"
	ErrCodeRecordValidation   = "RECORD_VALIDATION"
	ErrCodeDatastoreTransient = "DATASTORE_TRANSIENT"
	ErrCodeDatastoreFatal     = "DATASTORE_FATAL"
	ErrCodeUnknown            = "UNKNOWN"
)

// Sentinel errors
var (
	// ErrNotAuthenticated means the token vault has no usable credentials
	// for the user; the connection is treated as disconnected.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrResumeInvalidated means the provider rejected a previously issued
	// sync token. Not a failure: it triggers an automatic full resync.
	ErrResumeInvalidated = errors.New("sync token invalidated by provider")

	// ErrRateLimitExceeded means throttle backoff attempts were exhausted.
	ErrRateLimitExceeded = errors.New("rate limit retries exhausted")

	// ErrThrottled is the provider-side throttling signal before backoff.
	ErrThrottled = errors.New("provider throttled request")

	// ErrSyncInProgress means another invocation holds the user's cursor.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrCursorConflict is a compare-and-swap miss on the sync cursor.
	ErrCursorConflict = errors.New("cursor status changed concurrently")

	// ErrCursorNotFound means no cursor row exists yet for the user.
	ErrCursorNotFound = errors.New("sync cursor not found")

	// ErrDatastoreFatal marks persistent, non-retryable datastore failures.
	ErrDatastoreFatal = errors.New("datastore failure")
)

// ValidationError is a record-scoped failure: the single record is skipped
// and the rest of the batch continues.
type ValidationError struct {
	ExternalID string
	Reason     string
}

func (e *ValidationError) Error() string {
	if e.ExternalID != "" {
		return fmt.Sprintf("invalid record %s: %s", e.ExternalID, e.Reason)
	}
	return fmt.Sprintf("invalid record: %s", e.Reason)
}

// TransientError wraps a retryable network or datastore failure.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// SyncError is a run-scoped failure with taxonomy code and phase.
type SyncError struct {
	Code   string
	Phase  string
	UserID string
	Err    error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s [%s]: user %s: %v", e.Phase, e.Code, e.UserID, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// Classify maps an error onto the taxonomy code.
func Classify(err error) string {
	var ve *ValidationError
	var te *TransientError
	var se *SyncError

	switch {
	case errors.As(err, &se):
		return se.Code
	case errors.As(err, &ve):
		return ErrCodeRecordValidation
	case errors.Is(err, ErrResumeInvalidated):
		return ErrCodeResumeInvalidated
	case errors.Is(err, ErrRateLimitExceeded), errors.Is(err, ErrThrottled):
		return ErrCodeRateLimited
	case errors.Is(err, ErrNotAuthenticated):
		return ErrCodeAuthExpired
	case errors.Is(err, ErrDatastoreFatal):
		return ErrCodeDatastoreFatal
	case errors.As(err, &te):
		if te.Op == "datastore" {
			return ErrCodeDatastoreTransient
		}
		return ErrCodeNetworkTransient
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeNetworkTransient
	default:
		return ErrCodeUnknown
	}
}

// IsRecordScoped reports whether the error is isolated to one record and
// must not abort the run.
func IsRecordScoped(err error) bool {
	return Classify(err) == ErrCodeRecordValidation
}

// IsRetryable reports whether the failure warrants a bounded in-run retry.
func IsRetryable(err error) bool {
	switch Classify(err) {
	case ErrCodeNetworkTransient, ErrCodeDatastoreTransient:
		return true
	}
	return false
}
