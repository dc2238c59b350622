package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kaivalyagandhi/catchup-app-sub016/internal/config"
	"github.com/kaivalyagandhi/catchup-app-sub016/internal/events"
	"github.com/kaivalyagandhi/catchup-app-sub016/internal/models"
)

// GlobalKey is the counter key shared by all users.
const GlobalKey = "global"

// CounterStore is the atomic counter port backing the sliding windows.
// Counters are keyed by (key, window start); implementations must make Incr
// a single atomic increment-and-read so budgets hold across worker processes.
type CounterStore interface {
	Incr(ctx context.Context, key string, windowStart time.Time) (int64, error)
	Get(ctx context.Context, key string, windowStart time.Time) (int64, error)
}

// Limiter throttles outbound provider calls per-user and globally, and
// applies exponential backoff on provider throttling signals.
type Limiter struct {
	counters CounterStore
	cfg      config.RateLimitConfig
	logger   *events.Logger

	// Injectable for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewLimiter creates a rate limiter over the given counter store.
func NewLimiter(counters CounterStore, cfg config.RateLimitConfig, logger *events.Logger) *Limiter {
	return &Limiter{
		counters: counters,
		cfg:      cfg,
		logger:   logger.WithField("component", "ratelimit"),
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// Do waits for budget headroom, invokes fn, and retries with exponential
// backoff while fn reports provider throttling. Exhausting backoff attempts
// returns models.ErrRateLimitExceeded.
func (l *Limiter) Do(ctx context.Context, userID string, fn func(ctx context.Context) error) error {
	for attempt := 0; ; attempt++ {
		if err := l.WaitForSlot(ctx, userID); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil || !errors.Is(err, models.ErrThrottled) {
			return err
		}

		if backoffErr := l.OnThrottled(ctx, attempt); backoffErr != nil {
			return backoffErr
		}
	}
}

// CanProceed reports whether both the user and global budgets have headroom.
func (l *Limiter) CanProceed(ctx context.Context, userID string) (bool, error) {
	ws := l.windowStart()

	userCount, err := l.counters.Get(ctx, userID, ws)
	if err != nil {
		return false, fmt.Errorf("read user counter: %w", err)
	}
	if userCount >= l.cfg.UserLimit {
		return false, nil
	}

	globalCount, err := l.counters.Get(ctx, GlobalKey, ws)
	if err != nil {
		return false, fmt.Errorf("read global counter: %w", err)
	}
	return globalCount < l.cfg.GlobalLimit, nil
}

// WaitForSlot suspends until both budgets have headroom, then consumes one
// slot from each. No request is ever dropped; callers only wait. The global
// budget is checked before the user counter is charged, so an exhausted
// global window does not bill users for requests that never run.
func (l *Limiter) WaitForSlot(ctx context.Context, userID string) error {
	for {
		ws := l.windowStart()

		globalCount, err := l.counters.Get(ctx, GlobalKey, ws)
		if err != nil {
			return fmt.Errorf("read global counter: %w", err)
		}

		if globalCount < l.cfg.GlobalLimit {
			userCount, err := l.counters.Incr(ctx, userID, ws)
			if err != nil {
				return fmt.Errorf("increment user counter: %w", err)
			}
			if userCount <= l.cfg.UserLimit {
				globalCount, err = l.counters.Incr(ctx, GlobalKey, ws)
				if err != nil {
					return fmt.Errorf("increment global counter: %w", err)
				}
				if globalCount <= l.cfg.GlobalLimit {
					return nil
				}
			}
		}

		// Budget exhausted for this window; wait for it to roll over.
		// A user charge lost to a racing global fill, or a global
		// over-count, is confined to the expiring bucket.
		wait := ws.Add(l.cfg.Window).Sub(l.now())
		if wait <= 0 {
			continue
		}

		l.logger.WithFields(map[string]interface{}{
			"user_id": userID,
			"wait":    wait.String(),
		}).Debug("Rate budget exhausted, waiting for window")

		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// OnThrottled applies exponential backoff after a provider throttling
// response. attempt counts prior throttles in this operation; once
// MaxBackoffs attempts are used up it returns models.ErrRateLimitExceeded.
func (l *Limiter) OnThrottled(ctx context.Context, attempt int) error {
	if attempt >= l.cfg.MaxBackoffs {
		return models.ErrRateLimitExceeded
	}

	delay := l.cfg.BaseBackoff << attempt
	if delay > l.cfg.MaxBackoff {
		delay = l.cfg.MaxBackoff
	}

	l.logger.WithFields(map[string]interface{}{
		"attempt": attempt + 1,
		"delay":   delay.String(),
	}).Warn("Provider throttled, backing off")

	return l.sleep(ctx, delay)
}

// windowStart returns the deterministic start of the current window bucket.
// Truncation keeps distributed counters agreed on bucket identity.
func (l *Limiter) windowStart() time.Time {
	return l.now().Truncate(l.cfg.Window)
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
