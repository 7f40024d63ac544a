package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-anomaly/internal/metrics"
	"github.com/miradorstack/mirador-anomaly/internal/models"
)

// ErrUnknownAlert is returned when feedback names an alert the store does not hold.
var ErrUnknownAlert = errors.New("unknown alert")

// SetPatternEnabled toggles a pattern. It reports false for an unknown id.
func (e *Engine) SetPatternEnabled(id string, enabled bool) bool {
	return e.registry.SetEnabled(id, enabled)
}

// SetLearningMode turns background sync and learned-pattern merging on or off.
func (e *Engine) SetLearningMode(enabled bool) {
	if e.learning.Swap(enabled) != enabled {
		e.logger.Info("learning mode changed", slog.Bool("enabled", enabled))
	}
}

// LearningMode reports whether learning mode is on.
func (e *Engine) LearningMode() bool {
	return e.learning.Load()
}

// MergeLearnedPatterns folds learned accuracy and false-positive rates into the registry
// and returns how many entries were applied.
func (e *Engine) MergeLearnedPatterns(learned []models.AnomalyPattern) int {
	n := e.registry.MergeLearned(learned)
	metrics.ObserveLearnedMerge(n)
	if n > 0 {
		e.logger.Info("merged learned patterns", slog.Int("merged", n), slog.Int("offered", len(learned)))
	}
	return n
}

// Patterns returns every registered pattern.
func (e *Engine) Patterns() []models.AnomalyPattern {
	return e.registry.List()
}

// RecordFeedback stores an operator verdict for a stored alert. In learning mode, patterns
// with enough verdicts have their measured quality merged into the registry.
func (e *Engine) RecordFeedback(alertID string, confirmed bool) error {
	alert, ok := e.alerts.Get(alertID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAlert, alertID)
	}
	e.tracker.Record(alert.PatternID, confirmed)

	if !e.learning.Load() || alert.PatternID == "" {
		return nil
	}
	var known []models.AnomalyPattern
	for _, p := range e.tracker.Learned(e.cfg.LearnedMinSamples) {
		if _, exists := e.registry.Get(p.ID); exists {
			known = append(known, p)
		}
	}
	if len(known) > 0 {
		e.MergeLearnedPatterns(known)
	}
	return nil
}

// Statistics reports stored alert counts, declared pattern quality and measured quality
// from operator feedback.
func (e *Engine) Statistics() models.AnomalyStatistics {
	stats := e.alerts.Statistics(recentAlerts)
	stats.DeclaredAccuracy, stats.DeclaredFalsePositiveRate = e.registry.DeclaredQuality()
	stats.Measured = e.tracker.Measured()
	return stats
}

// Predict flags servers likely to breach load limits within horizon. Predictions are
// returned but not stored. A non-positive horizon selects the configured default.
func (e *Engine) Predict(batch []models.MetricSnapshot, horizon time.Duration) []models.AnomalyAlert {
	if horizon <= 0 {
		horizon = e.cfg.PredictionHorizon
	}
	valid := make([]models.MetricSnapshot, 0, len(batch))
	for _, s := range batch {
		if err := s.Validate(); err != nil {
			e.logger.Warn("skipping snapshot for prediction", slog.String("server_id", s.ServerID), slog.Any("error", err))
			continue
		}
		valid = append(valid, s)
	}

	forecasts := e.predictor.Predict(valid, e.now(), horizon)
	out := make([]models.AnomalyAlert, 0, len(forecasts))
	for _, f := range forecasts {
		alert := models.AnomalyAlert{
			ID:                fmt.Sprintf("%s-%s-%s-%d", models.DetectorPredict, f.ServerID, models.MetricPredictedLoad, f.At.UnixMilli()),
			Timestamp:         f.At,
			ServerID:          f.ServerID,
			Metric:            models.MetricPredictedLoad,
			CurrentValue:      f.Value,
			ExpectedValue:     f.Value,
			Severity:          f.Severity,
			Confidence:        f.Confidence,
			Description:       f.Description,
			Detector:          models.DetectorPredict,
			HistoricalContext: models.HistoricalContext{RecentTrend: models.TrendStable},
		}
		alert.Recommendations = e.recommender.ForPrediction(alert)
		out = append(out, alert)
	}
	return out
}
