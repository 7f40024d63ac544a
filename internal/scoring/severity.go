package scoring

import (
	"math"

	"github.com/miradorstack/mirador-anomaly/internal/models"
)

// Severity bands a deviation score. It is shared by the z-score and IQR detectors so both
// map their (differently scaled) scores onto the same four levels.
func Severity(value, low, high float64) models.Severity {
	switch {
	case value >= high:
		return models.SeverityCritical
	case value >= 1.5*low:
		return models.SeverityHigh
	case value >= low:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// Confidence returns ratio clamped to [0, ceiling]. Non-finite ratios saturate at ceiling.
func Confidence(ratio, ceiling float64) float64 {
	if math.IsNaN(ratio) || math.IsInf(ratio, 1) {
		return ceiling
	}
	return Clamp(ratio, 0, ceiling)
}

// Clamp bounds value to [min, max].
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
