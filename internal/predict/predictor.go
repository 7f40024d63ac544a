package predict

import (
	"fmt"
	"time"

	"github.com/miradorstack/mirador-anomaly/internal/models"
)

// DefaultHorizon is the forecast distance used when none is given.
const DefaultHorizon = time.Hour

const (
	watchCPU    = 70
	watchMemory = 75
	highCPU     = 80
	highMemory  = 85

	predictionConfidence = 0.75
)

// Forecast is a forward-looking signal for one server.
type Forecast struct {
	ServerID    string
	At          time.Time
	Value       float64
	Severity    models.Severity
	Confidence  float64
	Description string
}

// Predictor flags servers likely to breach load thresholds within the horizon.
//
// It is a threshold heuristic over the current reading, not a trained model.
type Predictor struct{}

// NewPredictor constructs a Predictor.
func NewPredictor() *Predictor { return &Predictor{} }

// Predict returns one forecast per snapshot whose CPU or memory is in the watch band.
func (p *Predictor) Predict(batch []models.MetricSnapshot, now time.Time, horizon time.Duration) []Forecast {
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	var out []Forecast
	for _, s := range batch {
		if s.CPUUsage <= watchCPU && s.MemoryUsage <= watchMemory {
			continue
		}
		severity := models.SeverityMedium
		if s.CPUUsage > highCPU || s.MemoryUsage > highMemory {
			severity = models.SeverityHigh
		}
		peak := s.CPUUsage
		if s.MemoryUsage > peak {
			peak = s.MemoryUsage
		}
		out = append(out, Forecast{
			ServerID:   s.ServerID,
			At:         now.Add(horizon),
			Value:      peak,
			Severity:   severity,
			Confidence: predictionConfidence,
			Description: fmt.Sprintf("%s is likely to run out of headroom within %s (cpu %.1f%%, memory %.1f%%)",
				s.ServerID, horizon, s.CPUUsage, s.MemoryUsage),
		})
	}
	return out
}
