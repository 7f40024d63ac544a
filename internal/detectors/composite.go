package detectors

import (
	"fmt"

	"github.com/miradorstack/mirador-anomaly/internal/models"
)

// Local limits that make a single server count towards a system-wide anomaly.
const (
	compositeCPULimit    = 80
	compositeMemoryLimit = 85
	compositeDiskLimit   = 90
)

// CompositeDetector raises one system-wide candidate when a large share of the batch is
// abnormal at once.
type CompositeDetector struct {
	patterns PatternLister
	fraction float64
}

// NewCompositeDetector returns a composite detector. When fraction is non-positive the
// composite_anomaly pattern threshold (default 0.3) is used.
func NewCompositeDetector(patterns PatternLister, fraction float64) *CompositeDetector {
	return &CompositeDetector{patterns: patterns, fraction: fraction}
}

// LocallyAnomalous reports whether a single snapshot crosses any composite limit.
func LocallyAnomalous(s models.MetricSnapshot) bool {
	return s.CPUUsage > compositeCPULimit || s.MemoryUsage > compositeMemoryLimit || s.DiskUsage > compositeDiskLimit
}

// Detect evaluates the whole batch and returns at most one candidate.
func (d *CompositeDetector) Detect(batch []models.MetricSnapshot) []Candidate {
	if len(batch) == 0 || d.patterns == nil {
		return nil
	}
	pattern, enabled := d.compositePattern()
	if !enabled {
		return nil
	}
	fraction := d.fraction
	if fraction <= 0 {
		fraction = pattern.Threshold
	}
	if fraction <= 0 {
		fraction = 0.3
	}

	abnormal := 0
	for _, s := range batch {
		if LocallyAnomalous(s) {
			abnormal++
		}
	}
	share := float64(abnormal) / float64(len(batch))
	if float64(abnormal) < fraction*float64(len(batch))-1e-9 {
		return nil
	}

	return []Candidate{{
		Detector:   models.DetectorComposite,
		PatternID:  models.PatternComposite,
		ServerID:   models.SystemServerID,
		Metric:     models.MetricSystemHealth,
		Value:      share * 100,
		Expected:   fraction * 100,
		Score:      share,
		Severity:   models.SeverityCritical,
		Confidence: 0.95,
		Description: fmt.Sprintf("%d of %d servers (%.0f%%) are abnormal at the same time",
			abnormal, len(batch), share*100),
	}}
}

func (d *CompositeDetector) compositePattern() (models.AnomalyPattern, bool) {
	for _, p := range d.patterns.ListEnabled() {
		if p.ID == models.PatternComposite {
			return p, true
		}
	}
	return models.AnomalyPattern{}, false
}
