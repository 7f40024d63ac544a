package detectors

import (
	"fmt"
	"sort"

	"github.com/miradorstack/mirador-anomaly/internal/models"
	"github.com/miradorstack/mirador-anomaly/internal/scoring"
)

// minIQR keeps IQR-derived denominators finite when the quartiles coincide.
const minIQR = 1e-9

// RangeDetector flags values outside Tukey fences built from the history quartiles.
type RangeDetector struct {
	Multiplier float64
	MinSamples int
}

// NewRangeDetector returns an IQR detector; non-positive arguments select 1.5 and 50.
func NewRangeDetector(multiplier float64, minSamples int) *RangeDetector {
	if multiplier <= 0 {
		multiplier = 1.5
	}
	if minSamples <= 0 {
		minSamples = 50
	}
	return &RangeDetector{Multiplier: multiplier, MinSamples: minSamples}
}

// Name implements Detector.
func (d *RangeDetector) Name() models.DetectorKind { return models.DetectorIQR }

// Detect implements Detector.
func (d *RangeDetector) Detect(in Input) []Candidate {
	n := len(in.History)
	if n < d.MinSamples {
		return nil
	}

	q1, q3 := Quartiles(in.History)
	iqr := q3 - q1
	multiplier := in.Model.Param("iqr_multiplier", d.Multiplier)
	lower := q1 - multiplier*iqr
	upper := q3 + multiplier*iqr

	var distance float64
	switch {
	case in.Value < lower:
		distance = lower - in.Value
	case in.Value > upper:
		distance = in.Value - upper
	default:
		return nil
	}

	// With IQR == 0 the fences collapse; any deviation fires and scores saturate.
	scale := iqr
	if scale < minIQR {
		scale = minIQR
	}

	return []Candidate{{
		Detector:   models.DetectorIQR,
		ServerID:   in.ServerID,
		Metric:     in.Metric,
		Value:      in.Value,
		Expected:   (q1 + q3) / 2,
		Score:      distance,
		Severity:   scoring.Severity(distance, 0.5*scale, 2*scale),
		Confidence: scoring.Confidence(distance/(2*scale), 0.9),
		Description: fmt.Sprintf("%s on %s is outside the expected range [%.2f, %.2f] (value %.2f)",
			in.Metric, in.ServerID, lower, upper, in.Value),
	}}
}

// Quartiles returns Q1 and Q3 taken at indexes floor(n*0.25) and floor(n*0.75) of the
// sorted values. values must not be empty.
func Quartiles(values []float64) (q1, q3 float64) {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	return sorted[quartileIndex(n, 0.25)], sorted[quartileIndex(n, 0.75)]
}

func quartileIndex(n int, p float64) int {
	idx := int(float64(n) * p)
	if idx >= n {
		idx = n - 1
	}
	return idx
}
