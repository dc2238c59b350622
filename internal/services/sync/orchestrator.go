// Package sync orchestrates one-way contact synchronization runs. A run
// claims the user's cursor through a compare-and-swap status transition,
// pulls provider pages, deduplicates each page into the local store, and
// releases the cursor with updated progress. The provider is never written
// to.
package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kaivalyagandhi/catchup-app-sub016/internal/config"
	"github.com/kaivalyagandhi/catchup-app-sub016/internal/dedup"
	"github.com/kaivalyagandhi/catchup-app-sub016/internal/events"
	"github.com/kaivalyagandhi/catchup-app-sub016/internal/groupmap"
	"github.com/kaivalyagandhi/catchup-app-sub016/internal/models"
	"github.com/kaivalyagandhi/catchup-app-sub016/internal/source"
	"github.com/kaivalyagandhi/catchup-app-sub016/internal/store"
)

// Orchestrator drives sync runs for one deployment.
type Orchestrator struct {
	store  store.Store
	source source.Source
	cfg    config.SyncConfig
	logger *events.Logger

	// Injectable for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewOrchestrator creates a sync orchestrator.
func NewOrchestrator(st store.Store, src source.Source, cfg config.SyncConfig, logger *events.Logger) *Orchestrator {
	return &Orchestrator{
		store:  st,
		source: src,
		cfg:    cfg,
		logger: logger.WithField("service", "sync"),
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// Run executes one sync for the user. Exactly one run per user proceeds at a
// time; a concurrent invocation gets models.ErrSyncInProgress without having
// written anything. A redelivery carrying the idempotency key of the last
// completed run is acknowledged as a no-op.
func (o *Orchestrator) Run(ctx context.Context, userID string, syncType models.SyncType, idempotencyKey string) (*models.SyncResult, error) {
	start := o.now()
	logger := o.logger.WithFields(map[string]interface{}{
		"user_id":   userID,
		"sync_type": syncType,
	})

	cursor, err := o.claim(ctx, userID, &syncType, idempotencyKey, logger)
	if err != nil {
		return nil, err
	}
	if cursor == nil {
		// Duplicate delivery of a completed run.
		logger.WithField("idempotency_key", idempotencyKey).Info("Duplicate invocation acknowledged")
		return &models.SyncResult{UserID: userID, SyncType: syncType}, nil
	}

	result := &models.SyncResult{UserID: userID, SyncType: syncType}

	runErr := o.execute(ctx, cursor, syncType, result)
	result.Duration = o.now().Sub(start)

	if runErr != nil {
		return result, o.fail(ctx, cursor, runErr, logger)
	}

	if err := o.release(ctx, cursor, syncType, result); err != nil {
		return result, err
	}

	logger.WithFields(map[string]interface{}{
		"created":        result.ContactsCreated,
		"updated":        result.ContactsUpdated,
		"archived":       result.ContactsArchived,
		"record_errors":  len(result.Errors),
		"recovered_full": result.RecoveredFull,
		"duration":       result.Duration.String(),
	}).Info("Sync completed")

	return result, nil
}

// claim transitions the cursor to a running status via CAS. A nil cursor
// with nil error means the invocation was a duplicate and must be
// acknowledged without running. syncType may be downgraded to full when no
// resumption token exists yet.
func (o *Orchestrator) claim(ctx context.Context, userID string, syncType *models.SyncType, idempotencyKey string, logger *events.Logger) (*models.SyncCursor, error) {
	cursor, err := o.store.ReadCursor(ctx, userID)
	if errors.Is(err, models.ErrCursorNotFound) {
		cursor = models.NewSyncCursor(userID)
	} else if err != nil {
		return nil, fmt.Errorf("read cursor: %w", err)
	}

	if idempotencyKey != "" && idempotencyKey == cursor.LastIdempotencyKey && !cursor.Running() {
		return nil, nil
	}

	observed := cursor.Status
	if cursor.Running() {
		if !cursor.StaleClaim(o.cfg.ClaimStaleness, o.now()) {
			return nil, models.ErrSyncInProgress
		}
		logger.WithField("claimed_at", cursor.ClaimedAt).Warn("Reclaiming stale sync claim")
	}

	if *syncType == models.SyncIncremental && cursor.SyncToken == "" {
		logger.Info("No resumption token yet, running full sync")
		*syncType = models.SyncFull
	}

	claimed := *cursor
	claimed.Status = models.StatusFullRunning
	if *syncType == models.SyncIncremental {
		claimed.Status = models.StatusIncrementalRunning
	}
	claimed.ClaimedAt = o.now()
	claimed.LastIdempotencyKey = idempotencyKey
	claimed.LastError = ""

	// A full sync restarts pagination unless it is resuming its own stale
	// claim mid-listing.
	if observed != models.StatusFullRunning {
		claimed.PageToken = ""
	}

	if err := o.store.CASWriteCursor(ctx, userID, []models.SyncStatus{observed}, &claimed); err != nil {
		if errors.Is(err, models.ErrCursorConflict) {
			return nil, models.ErrSyncInProgress
		}
		return nil, fmt.Errorf("claim cursor: %w", err)
	}

	return &claimed, nil
}

func (o *Orchestrator) execute(ctx context.Context, cursor *models.SyncCursor, syncType models.SyncType, result *models.SyncResult) error {
	if syncType == models.SyncFull {
		return o.runFull(ctx, cursor, result)
	}

	err := o.runIncremental(ctx, cursor, result)
	if errors.Is(err, models.ErrResumeInvalidated) {
		// The provider invalidated the resumption token. Recover inside the
		// same run: drop the token and fall through to a full listing.
		o.logger.WithField("user_id", cursor.UserID).Warn("Resume token invalidated, falling back to full sync")
		cursor.SyncToken = ""
		cursor.PageToken = ""
		result.RecoveredFull = true
		return o.runFull(ctx, cursor, result)
	}
	return err
}

// runFull lists every provider contact, deduplicating page by page. The
// in-flight page token is persisted after each page so an interrupted run
// resumes where it stopped.
func (o *Orchestrator) runFull(ctx context.Context, cursor *models.SyncCursor, result *models.SyncResult) error {
	existing, err := o.store.ListContacts(ctx, cursor.UserID)
	if err != nil {
		return o.datastoreErr("load contacts", cursor.UserID, err)
	}
	index := dedup.NewIndex(existing)

	// Group discovery happens once per run, before the first page.
	if cursor.PageToken == "" {
		if err := o.importGroups(ctx, cursor.UserID, result); err != nil {
			return err
		}
	}

	for {
		page, err := o.source.ListPage(ctx, cursor.UserID, source.PageCursor{
			PageToken:        cursor.PageToken,
			RequestSyncToken: true,
		})
		if err != nil {
			return &models.SyncError{
				Code:   models.Classify(err),
				Phase:  "list_contacts",
				UserID: cursor.UserID,
				Err:    err,
			}
		}

		if err := o.applyPage(ctx, cursor.UserID, index, page.Contacts, result); err != nil {
			return err
		}

		cursor.PageToken = page.NextPageToken
		if page.NextPageToken == "" {
			result.SyncToken = page.NewSyncToken
			break
		}

		if err := o.checkpoint(ctx, cursor); err != nil {
			return err
		}
	}

	return o.applyMemberships(ctx, cursor.UserID)
}

// runIncremental lists changes since the stored resumption token, archiving
// provider-side deletions.
func (o *Orchestrator) runIncremental(ctx context.Context, cursor *models.SyncCursor, result *models.SyncResult) error {
	existing, err := o.store.ListContacts(ctx, cursor.UserID)
	if err != nil {
		return o.datastoreErr("load contacts", cursor.UserID, err)
	}
	index := dedup.NewIndex(existing)

	pageToken := ""
	for {
		page, err := o.source.ListPage(ctx, cursor.UserID, source.PageCursor{
			PageToken: pageToken,
			SyncToken: cursor.SyncToken,
		})
		if err != nil {
			if errors.Is(err, models.ErrResumeInvalidated) {
				return err
			}
			return &models.SyncError{
				Code:   models.Classify(err),
				Phase:  "list_changes",
				UserID: cursor.UserID,
				Err:    err,
			}
		}

		if err := o.applyPage(ctx, cursor.UserID, index, page.Contacts, result); err != nil {
			return err
		}

		for _, externalID := range page.DeletedExternalIDs {
			archived, err := o.withRetry(ctx, func(ctx context.Context) (bool, error) {
				return o.store.ArchiveContact(ctx, cursor.UserID, externalID)
			})
			if err != nil {
				return o.datastoreErr("archive contact", cursor.UserID, err)
			}
			if archived {
				result.ContactsArchived++
			}
		}

		pageToken = page.NextPageToken
		if pageToken == "" {
			result.SyncToken = page.NewSyncToken
			break
		}
	}

	return o.applyMemberships(ctx, cursor.UserID)
}

// applyPage deduplicates one provider page and persists the resulting
// instructions in store-sized batches. Malformed records are skipped and
// reported; they never abort the run.
func (o *Orchestrator) applyPage(ctx context.Context, userID string, index *dedup.Index, contacts []models.Contact, result *models.SyncResult) error {
	var instructions []dedup.Instruction

	for i := range contacts {
		contacts[i].UserID = userID

		instr, err := index.Resolve(contacts[i])
		if err != nil {
			var ve *models.ValidationError
			if errors.As(err, &ve) {
				result.AddRecordError(ve.ExternalID, ve.Reason)
				continue
			}
			return err
		}

		if instr.Op == dedup.OpCreate {
			// Assign identity now so a duplicate later in this page merges
			// into this record instead of an empty ID.
			instr.Contact.ID = uuid.NewString()
			contacts[i].ID = instr.Contact.ID
			index.Add(&contacts[i])
		}
		instructions = append(instructions, instr)
	}

	for start := 0; start < len(instructions); start += o.cfg.BatchSize {
		end := start + o.cfg.BatchSize
		if end > len(instructions) {
			end = len(instructions)
		}

		created, updated, err := o.applyBatchRetry(ctx, userID, instructions[start:end])
		if err != nil {
			return o.datastoreErr("apply batch", userID, err)
		}
		result.ContactsCreated += created
		result.ContactsUpdated += updated
	}

	return nil
}

func (o *Orchestrator) applyBatchRetry(ctx context.Context, userID string, batch []dedup.Instruction) (int, int, error) {
	var created, updated int
	_, err := o.withRetry(ctx, func(ctx context.Context) (bool, error) {
		var err error
		created, updated, err = o.store.ApplyBatch(ctx, userID, batch)
		return false, err
	})
	return created, updated, err
}

// importGroups fetches provider groups and regenerates mapping suggestions
// for every group a human has not yet reviewed. Nothing is created or linked
// here; approval is a separate, human step.
func (o *Orchestrator) importGroups(ctx context.Context, userID string, result *models.SyncResult) error {
	remote, err := o.source.ListGroups(ctx, userID)
	if err != nil {
		return &models.SyncError{
			Code:   models.Classify(err),
			Phase:  "list_groups",
			UserID: userID,
			Err:    err,
		}
	}
	result.GroupsImported = len(remote)

	existing, err := o.store.ListGroupMappings(ctx, userID)
	if err != nil {
		return o.datastoreErr("load group mappings", userID, err)
	}
	reviewed := make(map[string]bool, len(existing))
	for _, m := range existing {
		if m.Status != models.MappingPending {
			reviewed[m.ExternalID] = true
		}
	}

	locals, err := o.store.ListGroups(ctx, userID)
	if err != nil {
		return o.datastoreErr("load groups", userID, err)
	}

	for _, group := range remote {
		if reviewed[group.ExternalID] {
			continue
		}

		suggestion := groupmap.Suggest(group, locals)
		mapping := &models.GroupMapping{
			UserID:          userID,
			ExternalID:      group.ExternalID,
			ETag:            group.ETag,
			ProviderName:    group.Name,
			LocalGroupID:    suggestion.TargetGroupID,
			Status:          models.MappingPending,
			SuggestedAction: suggestion.Action,
			Confidence:      suggestion.Confidence,
			Reason:          suggestion.Reason,
		}
		if err := o.store.UpsertGroupMapping(ctx, mapping); err != nil {
			return o.datastoreErr("save group mapping", userID, err)
		}
		result.SuggestionsGenerated++
	}

	return nil
}

// applyMemberships links synced contacts into local groups, but only through
// mappings a human has approved.
func (o *Orchestrator) applyMemberships(ctx context.Context, userID string) error {
	mappings, err := o.store.ListGroupMappings(ctx, userID)
	if err != nil {
		return o.datastoreErr("load group mappings", userID, err)
	}

	approved := make(map[string]string)
	for _, m := range mappings {
		if m.Status == models.MappingApproved && m.LocalGroupID != "" {
			approved[m.ExternalID] = m.LocalGroupID
		}
	}
	if len(approved) == 0 {
		return nil
	}

	contacts, err := o.store.ListContacts(ctx, userID)
	if err != nil {
		return o.datastoreErr("load contacts", userID, err)
	}

	for _, contact := range contacts {
		for _, externalGroupID := range contact.GroupExternalIDs {
			groupID, ok := approved[externalGroupID]
			if !ok {
				continue
			}
			if err := o.store.AddGroupMember(ctx, userID, groupID, contact.ID); err != nil {
				return o.datastoreErr("add group member", userID, err)
			}
		}
	}

	return nil
}

// checkpoint persists in-flight progress under the running status so a
// killed worker's successor resumes instead of restarting.
func (o *Orchestrator) checkpoint(ctx context.Context, cursor *models.SyncCursor) error {
	if err := o.store.CASWriteCursor(ctx, cursor.UserID, []models.SyncStatus{cursor.Status}, cursor); err != nil {
		if errors.Is(err, models.ErrCursorConflict) {
			// Someone reclaimed the cursor out from under this run.
			return models.ErrSyncInProgress
		}
		return o.datastoreErr("checkpoint cursor", cursor.UserID, err)
	}
	return nil
}

// release transitions the cursor back to idle with the run's results.
func (o *Orchestrator) release(ctx context.Context, cursor *models.SyncCursor, syncType models.SyncType, result *models.SyncResult) error {
	now := o.now().UTC()
	final := *cursor
	final.Status = models.StatusIdle
	final.PageToken = ""
	final.ClaimedAt = time.Time{}
	final.TotalContactsSynced += int64(result.Processed())

	if result.SyncToken != "" {
		final.SyncToken = result.SyncToken
	}
	if syncType == models.SyncFull || result.RecoveredFull {
		final.LastFullSyncAt = now
	} else {
		final.LastIncrementalSyncAt = now
	}

	if err := o.store.CASWriteCursor(ctx, cursor.UserID, []models.SyncStatus{cursor.Status}, &final); err != nil {
		return o.datastoreErr("release cursor", cursor.UserID, err)
	}
	return nil
}

// fail marks the cursor failed with the run error. A later retry claims the
// failed cursor like an idle one and restarts pagination from the beginning;
// only a stale full_running claim resumes mid-listing.
func (o *Orchestrator) fail(ctx context.Context, cursor *models.SyncCursor, runErr error, logger *events.Logger) error {
	logger.WithError(runErr).Error("Sync failed")

	failed := *cursor
	failed.Status = models.StatusFailed
	failed.ClaimedAt = time.Time{}
	failed.LastError = runErr.Error()

	if err := o.store.CASWriteCursor(ctx, cursor.UserID, []models.SyncStatus{cursor.Status}, &failed); err != nil {
		logger.WithError(err).Error("Failed to record sync failure")
	}

	return runErr
}

// withRetry retries transient datastore failures with linear backoff.
func (o *Orchestrator) withRetry(ctx context.Context, fn func(ctx context.Context) (bool, error)) (bool, error) {
	var lastErr error
	for attempt := 0; attempt <= o.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			if err := o.sleep(ctx, o.cfg.RetryDelay*time.Duration(attempt)); err != nil {
				return false, err
			}
		}

		ok, err := fn(ctx)
		if err == nil {
			return ok, nil
		}
		if !models.IsRetryable(err) {
			return false, err
		}
		lastErr = err
	}
	return false, lastErr
}

func (o *Orchestrator) datastoreErr(phase, userID string, err error) error {
	code := models.Classify(err)
	if code == models.ErrCodeUnknown {
		code = models.ErrCodeDatastoreFatal
	}
	return &models.SyncError{Code: code, Phase: phase, UserID: userID, Err: err}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
