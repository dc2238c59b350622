package sync

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/kaivalyagandhi/catchup-app-sub016/internal/config"
	"github.com/kaivalyagandhi/catchup-app-sub016/internal/events"
	"github.com/kaivalyagandhi/catchup-app-sub016/internal/models"
	"github.com/kaivalyagandhi/catchup-app-sub016/internal/source"
	"github.com/kaivalyagandhi/catchup-app-sub016/internal/store"
	"github.com/kaivalyagandhi/catchup-app-sub016/internal/vault"
)

// Service provides high-level sync operations.
type Service struct {
	vault        vault.TokenVault
	orchestrator *Orchestrator
	logger       *events.Logger
}

// Options control one sync invocation.
type Options struct {
	// Full forces a complete listing instead of a token-based delta.
	Full bool

	// IdempotencyKey deduplicates redelivered invocations. Generated when
	// empty.
	IdempotencyKey string
}

// NewService creates a sync service.
func NewService(
	st store.Store,
	src source.Source,
	tokenVault vault.TokenVault,
	cfg config.SyncConfig,
	logger *events.Logger,
) *Service {
	return &Service{
		vault:        tokenVault,
		orchestrator: NewOrchestrator(st, src, cfg, logger),
		logger:       logger.WithField("service", "sync"),
	}
}

// Sync runs one synchronization for the user.
func (s *Service) Sync(ctx context.Context, userID string, opts Options) (*models.SyncResult, error) {
	// Fail fast on a disconnected user before touching the cursor.
	if _, err := s.vault.AccessToken(ctx, userID); err != nil {
		return nil, fmt.Errorf("check credentials: %w", err)
	}

	syncType := models.SyncIncremental
	if opts.Full {
		syncType = models.SyncFull
	}

	key := opts.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}

	return s.orchestrator.Run(ctx, userID, syncType, key)
}

// Status reports the user's current sync cursor.
func (s *Service) Status(ctx context.Context, userID string) (*models.SyncCursor, error) {
	return s.orchestrator.store.ReadCursor(ctx, userID)
}
