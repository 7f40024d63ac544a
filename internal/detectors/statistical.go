package detectors

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/miradorstack/mirador-anomaly/internal/models"
	"github.com/miradorstack/mirador-anomaly/internal/scoring"
)

// StatisticalDetector flags values more than Threshold population standard deviations
// away from the history mean.
type StatisticalDetector struct {
	Threshold  float64
	MinSamples int
}

// NewStatisticalDetector returns a z-score detector with the given threshold and minimum
// history; non-positive arguments select 3 and 30.
func NewStatisticalDetector(threshold float64, minSamples int) *StatisticalDetector {
	if threshold <= 0 {
		threshold = 3
	}
	if minSamples <= 0 {
		minSamples = 30
	}
	return &StatisticalDetector{Threshold: threshold, MinSamples: minSamples}
}

// Name implements Detector.
func (d *StatisticalDetector) Name() models.DetectorKind { return models.DetectorZScore }

// Detect implements Detector.
func (d *StatisticalDetector) Detect(in Input) []Candidate {
	if len(in.History) < d.MinSamples {
		return nil
	}

	mean, stdDev := stat.PopMeanStdDev(in.History, nil)
	if stdDev == 0 || math.IsNaN(stdDev) {
		return nil
	}

	threshold := in.Model.Param("z_threshold", d.Threshold)
	z := math.Abs(in.Value-mean) / stdDev
	if z <= threshold {
		return nil
	}

	return []Candidate{{
		Detector:   models.DetectorZScore,
		ServerID:   in.ServerID,
		Metric:     in.Metric,
		Value:      in.Value,
		Expected:   mean,
		Score:      z,
		Severity:   scoring.Severity(z, threshold, 5),
		Confidence: scoring.Confidence(z/5, 0.95),
		Description: fmt.Sprintf("%s on %s is %.2f standard deviations from its mean (%.2f vs %.2f)",
			in.Metric, in.ServerID, z, in.Value, mean),
	}}
}
