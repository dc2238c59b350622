// Package handler adapts the sync service to AWS Lambda invocations. Each
// event syncs one user; scheduling and fan-out live outside the function.
package handler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kaivalyagandhi/catchup-app-sub016/internal/client"
	"github.com/kaivalyagandhi/catchup-app-sub016/internal/config"
	"github.com/kaivalyagandhi/catchup-app-sub016/internal/events"
	"github.com/kaivalyagandhi/catchup-app-sub016/internal/models"
	syncsvc "github.com/kaivalyagandhi/catchup-app-sub016/internal/services/sync"
)

// Event is the Lambda input. SyncType defaults to incremental.
type Event struct {
	UserID         string `json:"user_id"`
	SyncType       string `json:"sync_type,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// Response summarizes the run for the invoker.
type Response struct {
	Success              bool   `json:"success"`
	Message              string `json:"message,omitempty"`
	ErrorCode            string `json:"error_code,omitempty"`
	ContactsCreated      int    `json:"contacts_created"`
	ContactsUpdated      int    `json:"contacts_updated"`
	ContactsArchived     int    `json:"contacts_archived"`
	GroupsImported       int    `json:"groups_imported"`
	SuggestionsGenerated int    `json:"suggestions_generated"`
	RecoveredFull        bool   `json:"recovered_full,omitempty"`

	// SyncToken is the provider resumption token after a successful run.
	SyncToken string `json:"sync_token,omitempty"`

	// Errors lists records skipped during the run with their reasons.
	Errors []models.RecordError `json:"errors,omitempty"`

	DurationMs int64 `json:"duration_ms"`
}

// SyncRunner is the service surface the handler needs.
type SyncRunner interface {
	Sync(ctx context.Context, userID string, opts syncsvc.Options) (*models.SyncResult, error)
}

// Handler processes sync events.
type Handler struct {
	sync   SyncRunner
	logger *events.Logger
}

// NewHandler builds a handler from environment configuration.
func NewHandler(ctx context.Context) (*Handler, error) {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	logger, err := events.NewLogger(&events.LogConfig{Level: logLevel, Format: "json"})
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	cfg, err := config.NewLoader("").Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	// Lambda instances have no shared local disk; cursors and rate counters
	// must come from DynamoDB, and anything written locally goes to /tmp.
	cfg.Storage.Backend = config.BackendDynamoDB
	cfg.Storage.DataDir = "/tmp/catchup"
	cfg.Storage.DBPath = filepath.Join(cfg.Storage.DataDir, "contacts.db")
	cfg.Storage.VaultDir = filepath.Join(cfg.Storage.DataDir, "tokens")
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	c, err := client.New(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	return &Handler{sync: c.Sync, logger: logger}, nil
}

// ProcessEvent runs one sync and maps the outcome onto the response shape.
// Contended and disconnected users are reported, not retried; returning an
// error would make the invoker redeliver an event that cannot succeed yet.
func (h *Handler) ProcessEvent(ctx context.Context, event Event) (Response, error) {
	if event.UserID == "" {
		return Response{Success: false, Message: "user_id required"}, nil
	}

	h.logger.WithFields(map[string]interface{}{
		"user_id":   event.UserID,
		"sync_type": event.SyncType,
	}).Info("Processing sync event")

	result, err := h.sync.Sync(ctx, event.UserID, syncsvc.Options{
		Full:           event.SyncType == string(models.SyncFull),
		IdempotencyKey: event.IdempotencyKey,
	})

	if err != nil {
		resp := Response{
			Success:   false,
			Message:   err.Error(),
			ErrorCode: models.Classify(err),
		}
		switch {
		case errors.Is(err, models.ErrSyncInProgress):
			resp.Message = "sync already in progress"
			resp.ErrorCode = ""
		case errors.Is(err, models.ErrNotAuthenticated):
			resp.Message = "user is not connected"
		}
		if result != nil {
			resp.DurationMs = result.Duration.Milliseconds()
		}
		return resp, nil
	}

	return Response{
		Success:              true,
		ContactsCreated:      result.ContactsCreated,
		ContactsUpdated:      result.ContactsUpdated,
		ContactsArchived:     result.ContactsArchived,
		GroupsImported:       result.GroupsImported,
		SuggestionsGenerated: result.SuggestionsGenerated,
		RecoveredFull:        result.RecoveredFull,
		SyncToken:            result.SyncToken,
		Errors:               result.Errors,
		DurationMs:           result.Duration.Milliseconds(),
	}, nil
}
