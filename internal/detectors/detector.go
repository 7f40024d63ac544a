package detectors

import "github.com/miradorstack/mirador-anomaly/internal/models"

// Input is one metric reading together with the history that preceded it.
type Input struct {
	ServerID string
	Metric   string
	Value    float64
	// History holds prior values, oldest first. It does not include Value.
	History []float64
	// Model optionally overrides fixed thresholds.
	Model *models.DetectionModel
}

// Candidate is a raw detection before scoring, dedup and storage.
type Candidate struct {
	Detector    models.DetectorKind
	PatternID   string
	ServerID    string
	Metric      string
	Value       float64
	Expected    float64
	Score       float64
	Severity    models.Severity
	Confidence  float64
	Description string
}

// Detector is a per-metric detection strategy.
type Detector interface {
	Name() models.DetectorKind
	Detect(in Input) []Candidate
}

// PatternLister is the registry read path used by rule-based detection.
type PatternLister interface {
	ListEnabled() []models.AnomalyPattern
}
