package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-anomaly/internal/models"
)

// SnapshotSource returns the current snapshot batch.
type SnapshotSource interface {
	FetchSnapshots(ctx context.Context) ([]models.MetricSnapshot, error)
}

// Detector runs one detection tick.
type Detector interface {
	Detect(ctx context.Context, batch []models.MetricSnapshot) []models.AnomalyAlert
}

// TickService polls the metric source on a fixed interval and feeds each batch to the engine.
type TickService struct {
	source   SnapshotSource
	detector Detector
	interval time.Duration
	logger   *slog.Logger
}

// NewTickService constructs a tick scheduler. Interval defaults to 30s.
func NewTickService(source SnapshotSource, detector Detector, interval time.Duration, logger *slog.Logger) *TickService {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TickService{source: source, detector: detector, interval: interval, logger: logger}
}

// Serve implements suture.Service. A failed fetch skips the tick; it does not stop the service.
func (s *TickService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *TickService) tick(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.interval)
	defer cancel()

	batch, err := s.source.FetchSnapshots(fetchCtx)
	if err != nil {
		s.logger.Warn("snapshot fetch failed", slog.Any("error", err))
		return
	}
	if len(batch) == 0 {
		return
	}
	alerts := s.detector.Detect(ctx, batch)
	if len(alerts) > 0 {
		s.logger.Info("anomalies detected", slog.Int("alerts", len(alerts)), slog.Int("servers", len(batch)))
	}
}

func (s *TickService) String() string { return "tick-scheduler" }
