package models

import "time"

// AnomalyAlert is a validated, scored anomaly emitted by the engine.
type AnomalyAlert struct {
	ID                string            `json:"id"`
	Timestamp         time.Time         `json:"timestamp"`
	ServerID          string            `json:"serverId"`
	Metric            string            `json:"metric"`
	CurrentValue      float64           `json:"currentValue"`
	ExpectedValue     float64           `json:"expectedValue"`
	Severity          Severity          `json:"severity"`
	Confidence        float64           `json:"confidence"`
	Description       string            `json:"description"`
	Recommendations   []string          `json:"recommendations"`
	HistoricalContext HistoricalContext `json:"historicalContext"`
	Detector          DetectorKind      `json:"detector"`
	PatternID         string            `json:"patternId,omitempty"`
}

// HistoricalContext summarises the series an alert was evaluated against.
type HistoricalContext struct {
	Average           float64 `json:"average"`
	StandardDeviation float64 `json:"standardDeviation"`
	RecentTrend       Trend   `json:"recentTrend"`
}

// DetectorKind names the strategy that produced an alert. It doubles as the alert id prefix.
type DetectorKind string

const (
	DetectorZScore    DetectorKind = "zscore"
	DetectorIQR       DetectorKind = "iqr"
	DetectorRule      DetectorKind = "pattern"
	DetectorComposite DetectorKind = "composite"
	DetectorPredict   DetectorKind = "predict"
)

// Severity captures impact levels.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities so callers can compare them.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// Trend classifies the recent direction of a series.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// AnomalyStatistics is the read-only aggregate view over accepted alerts.
//
// Declared* values come from pattern configuration or training; Measured holds counters
// derived from operator feedback on live alerts. The two are never mixed.
type AnomalyStatistics struct {
	TotalAnomalies            int                `json:"totalAnomalies"`
	CriticalAnomalies         int                `json:"criticalAnomalies"`
	DetectionRatePerHour      float64            `json:"detectionRatePerHour"`
	RecentAnomalies           []AnomalyAlert     `json:"recentAnomalies"`
	DeclaredAccuracy          float64            `json:"declaredAccuracy"`
	DeclaredFalsePositiveRate float64            `json:"declaredFalsePositiveRate"`
	Measured                  MeasuredStatistics `json:"measured"`
}

// MeasuredStatistics are live quality numbers computed from feedback.
type MeasuredStatistics struct {
	Samples           int     `json:"samples"`
	Confirmed         int     `json:"confirmed"`
	FalsePositives    int     `json:"falsePositives"`
	Accuracy          float64 `json:"accuracy"`
	FalsePositiveRate float64 `json:"falsePositiveRate"`
}

// Feedback captures an operator verdict on an accepted alert.
type Feedback struct {
	AlertID     string
	Confirmed   bool
	Notes       string
	SubmittedAt time.Time
}
