package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-anomaly/internal/metrics"
)

// ErrSyncThrottled is returned by SyncNow when the previous successful sync is too recent.
var ErrSyncThrottled = errors.New("pattern sync throttled")

// RequestSync asks the background worker to sync patterns. It never blocks.
func (e *Engine) RequestSync() {
	select {
	case e.syncReq <- struct{}{}:
	default:
	}
}

func (e *Engine) syncLoop() {
	for {
		select {
		case <-e.bgCtx.Done():
			return
		case <-e.syncReq:
			_ = e.SyncNow(e.bgCtx)
		}
	}
}

// SyncNow pushes the enabled patterns to the syncer. It is a no-op outside learning mode or
// without a syncer, and returns ErrSyncThrottled within SyncInterval of the last success.
// A failed sync leaves the last sync time unchanged so the next request retries.
func (e *Engine) SyncNow(ctx context.Context) error {
	if e.syncer == nil || !e.learning.Load() {
		metrics.ObserveSync(metrics.OutcomeSkipped)
		return nil
	}

	e.syncRunMu.Lock()
	defer e.syncRunMu.Unlock()

	now := e.now()
	if last := e.lastSyncTime(); !last.IsZero() && now.Sub(last) < e.cfg.SyncInterval {
		metrics.ObserveSync(metrics.OutcomeSkipped)
		return ErrSyncThrottled
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.SyncTimeout)
	defer cancel()
	if err := e.syncer.SyncPatterns(ctx, e.registry.ListEnabled()); err != nil {
		metrics.ObserveSync(metrics.OutcomeError)
		e.logger.Warn("pattern sync failed", slog.Any("error", err))
		return fmt.Errorf("sync patterns: %w", err)
	}

	e.syncMu.Lock()
	e.lastSync = now
	e.syncMu.Unlock()
	metrics.ObserveSync(metrics.OutcomeSuccess)
	e.logger.Debug("patterns synced", slog.Time("at", now))
	return nil
}

// RefreshLearned pulls the learned-pattern feed and merges it into the registry.
// It does nothing outside learning mode or without a source.
func (e *Engine) RefreshLearned(ctx context.Context) (int, error) {
	if e.source == nil || !e.learning.Load() {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.SyncTimeout)
	defer cancel()

	learned, err := e.source.FetchLearnedPatterns(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch learned patterns: %w", err)
	}
	return e.MergeLearnedPatterns(learned), nil
}

func (e *Engine) lastSyncTime() time.Time {
	e.syncMu.Lock()
	defer e.syncMu.Unlock()
	return e.lastSync
}
