package detectors

import (
	"fmt"

	"github.com/miradorstack/mirador-anomaly/internal/models"
	"github.com/miradorstack/mirador-anomaly/internal/scoring"
)

// RuleFunc decides whether pattern p fires for the reading. It returns the limit that was
// crossed so the description can quote it.
type RuleFunc func(p models.AnomalyPattern, in Input) (limit float64, fired bool)

// DefaultRules maps built-in pattern ids to their predicates. composite_anomaly has no
// per-metric rule; it is evaluated by CompositeDetector.
func DefaultRules() map[string]RuleFunc {
	return map[string]RuleFunc{
		models.PatternCPUSpike:   percentAbove(models.MetricCPU),
		models.PatternDisk:       percentAbove(models.MetricDisk),
		models.PatternMemoryLeak: memoryLeak,
		models.PatternNetwork:    latencyAbove,
	}
}

func percentAbove(metric string) RuleFunc {
	return func(p models.AnomalyPattern, in Input) (float64, bool) {
		if in.Metric != metric {
			return 0, false
		}
		limit := p.Threshold * 100
		return limit, in.Value > limit
	}
}

func memoryLeak(p models.AnomalyPattern, in Input) (float64, bool) {
	if in.Metric != models.MetricMemory {
		return 0, false
	}
	limit := p.Threshold * 100
	if in.Value <= limit {
		return limit, false
	}
	series := append(append(make([]float64, 0, len(in.History)+1), in.History...), in.Value)
	return limit, scoring.Trend(series) == models.TrendIncreasing
}

func latencyAbove(p models.AnomalyPattern, in Input) (float64, bool) {
	if in.Metric != models.MetricResponseTime {
		return 0, false
	}
	limit := p.Threshold * 1000
	return limit, in.Value > limit
}

// RuleDetector evaluates enabled named patterns against a reading.
type RuleDetector struct {
	patterns PatternLister
	rules    map[string]RuleFunc
}

// NewRuleDetector builds a rule detector over the registry. A nil rules table selects
// DefaultRules.
func NewRuleDetector(patterns PatternLister, rules map[string]RuleFunc) *RuleDetector {
	if rules == nil {
		rules = DefaultRules()
	}
	return &RuleDetector{patterns: patterns, rules: rules}
}

// Name implements Detector.
func (d *RuleDetector) Name() models.DetectorKind { return models.DetectorRule }

// Detect implements Detector.
func (d *RuleDetector) Detect(in Input) []Candidate {
	if d.patterns == nil {
		return nil
	}
	var out []Candidate
	for _, p := range d.patterns.ListEnabled() {
		rule, ok := d.rules[p.ID]
		if !ok {
			continue
		}
		limit, fired := rule(p, in)
		if !fired {
			continue
		}
		out = append(out, Candidate{
			Detector:    models.DetectorRule,
			PatternID:   p.ID,
			ServerID:    in.ServerID,
			Metric:      in.Metric,
			Value:       in.Value,
			Expected:    limit,
			Score:       in.Value - limit,
			Severity:    scoring.PatternSeverity(p.ID),
			Confidence:  p.Accuracy,
			Description: fmt.Sprintf("%s detected on %s: %s=%.2f exceeds %.2f", p.Name, in.ServerID, in.Metric, in.Value, limit),
		})
	}
	return out
}
