package services

import (
	"context"
	"log/slog"
	"time"
)

// LearnedRefresher pulls and merges the learned-pattern feed.
type LearnedRefresher interface {
	RefreshLearned(ctx context.Context) (int, error)
}

// LearnedRefreshService refreshes learned patterns once at start and then on every interval.
type LearnedRefreshService struct {
	refresher LearnedRefresher
	interval  time.Duration
	logger    *slog.Logger
}

// NewLearnedRefreshService constructs the refresher. Interval defaults to 15m.
func NewLearnedRefreshService(refresher LearnedRefresher, interval time.Duration, logger *slog.Logger) *LearnedRefreshService {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LearnedRefreshService{refresher: refresher, interval: interval, logger: logger}
}

// Serve implements suture.Service.
func (s *LearnedRefreshService) Serve(ctx context.Context) error {
	s.refresh(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.refresh(ctx)
		}
	}
}

func (s *LearnedRefreshService) refresh(ctx context.Context) {
	n, err := s.refresher.RefreshLearned(ctx)
	if err != nil {
		s.logger.Warn("learned pattern refresh failed", slog.Any("error", err))
		return
	}
	if n > 0 {
		s.logger.Debug("learned patterns refreshed", slog.Int("merged", n))
	}
}

func (s *LearnedRefreshService) String() string { return "learned-pattern-refresh" }
