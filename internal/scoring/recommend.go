package scoring

import (
	"errors"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-anomaly/internal/models"
)

var patternSeverity = map[string]models.Severity{
	models.PatternCPUSpike:   models.SeverityHigh,
	models.PatternMemoryLeak: models.SeverityCritical,
	models.PatternDisk:       models.SeverityMedium,
	models.PatternNetwork:    models.SeverityMedium,
}

var patternRecommendations = map[string][]string{
	models.PatternCPUSpike: {
		"Identify the processes consuming the most CPU",
		"Check for runaway jobs or busy loops introduced by recent deploys",
		"Consider scaling out or raising the CPU limit",
	},
	models.PatternMemoryLeak: {
		"Capture a heap profile and compare it with a baseline",
		"Restart the affected service to reclaim memory",
		"Review recent changes to caching and connection pooling",
	},
	models.PatternDisk: {
		"Remove or rotate old log files",
		"Clean temporary files and stale artifacts",
		"Plan a volume expansion",
	},
	models.PatternNetwork: {
		"Check network latency and packet loss to upstream dependencies",
		"Inspect load balancer and connection pool saturation",
		"Review slow queries behind the affected endpoints",
	},
	models.PatternComposite: {
		"Check shared infrastructure: network, storage and load balancers",
		"Review recent cluster-wide deployments or configuration changes",
		"Escalate to the infrastructure on-call",
	},
}

var metricRecommendations = map[string][]string{
	models.MetricCPU: {
		"Inspect top CPU consumers on the server",
		"Compare current load with the traffic baseline",
	},
	models.MetricMemory: {
		"Inspect resident memory of the largest processes",
		"Look for steady growth that indicates a leak",
	},
	models.MetricDisk: {
		"Check disk usage by directory and purge unneeded data",
		"Verify log rotation is working",
	},
	models.MetricResponseTime: {
		"Check downstream dependency latency",
		"Review recent deploys for performance regressions",
	},
}

var predictiveRecommendations = []string{
	"Plan capacity ahead of the projected peak",
	"Enable or tune autoscaling for the affected service",
	"Schedule heavy batch work outside the projected peak",
}

var fallbackRecommendations = []string{
	"Review recent deployments for regressions",
	"Monitor the server closely for the next intervals",
}

// PatternSeverity returns the fixed severity for a named pattern.
func PatternSeverity(patternID string) models.Severity {
	if sev, ok := patternSeverity[patternID]; ok {
		return sev
	}
	return models.SeverityMedium
}

// Recommender builds recommendation lists from built-in tables plus an optional rule pack.
// Tables are fixed at construction and never mutated afterwards.
type Recommender struct {
	rules  []Rule
	logger *slog.Logger
}

// Rule adds recommendations when every non-empty match attribute matches an alert.
type Rule struct {
	ID              string    `yaml:"id"`
	Match           RuleMatch `yaml:"match"`
	Recommendations []string  `yaml:"recommendations"`
}

// RuleMatch defines optional attributes for rule matching.
type RuleMatch struct {
	Pattern     string   `yaml:"pattern"`
	Metric      string   `yaml:"metric"`
	MinSeverity string   `yaml:"min_severity"`
	ServerIDs   []string `yaml:"servers"`
}

// RuleConfigFile is the YAML root structure.
type RuleConfigFile struct {
	Rules []Rule `yaml:"rules"`
}

// NewRecommender returns a recommender with built-in tables only.
func NewRecommender(logger *slog.Logger) *Recommender {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recommender{logger: logger}
}

// LoadRecommender loads an optional rule pack from path. A missing file yields built-ins only.
func LoadRecommender(path string, logger *slog.Logger) (*Recommender, error) {
	r := NewRecommender(logger)
	if path == "" {
		return r, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			r.logger.Debug("recommendation rule pack not found", slog.String("path", path))
			return r, nil
		}
		return nil, err
	}
	var cfg RuleConfigFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	r.rules = cfg.Rules
	r.logger.Info("loaded recommendation rules", slog.Int("rules", len(r.rules)))
	return r, nil
}

// ForPattern returns recommendations for a rule-based alert.
func (r *Recommender) ForPattern(patternID string, alert models.AnomalyAlert) []string {
	base, ok := patternRecommendations[patternID]
	if !ok {
		base = fallbackRecommendations
	}
	return r.withRules(base, patternID, alert)
}

// ForMetric returns recommendations for a statistical alert on metric.
func (r *Recommender) ForMetric(alert models.AnomalyAlert) []string {
	base, ok := metricRecommendations[alert.Metric]
	if !ok {
		base = fallbackRecommendations
	}
	recs := appendUnique(nil, base...)
	if alert.Severity == models.SeverityCritical {
		recs = appendUnique(recs, "Page the on-call engineer for "+alert.ServerID)
	}
	return r.withRules(recs, "", alert)
}

// ForComposite returns infrastructure-level recommendations.
func (r *Recommender) ForComposite(alert models.AnomalyAlert) []string {
	return r.withRules(patternRecommendations[models.PatternComposite], models.PatternComposite, alert)
}

// ForPrediction returns capacity-planning recommendations.
func (r *Recommender) ForPrediction(alert models.AnomalyAlert) []string {
	return r.withRules(predictiveRecommendations, "", alert)
}

func (r *Recommender) withRules(base []string, patternID string, alert models.AnomalyAlert) []string {
	recs := appendUnique(make([]string, 0, len(base)), base...)
	if r == nil {
		return recs
	}
	for _, rule := range r.rules {
		if rule.Match.Pattern != "" && !strings.EqualFold(rule.Match.Pattern, patternID) {
			continue
		}
		if rule.Match.Metric != "" && !strings.EqualFold(rule.Match.Metric, alert.Metric) {
			continue
		}
		if rule.Match.MinSeverity != "" && alert.Severity.Rank() < models.Severity(strings.ToLower(rule.Match.MinSeverity)).Rank() {
			continue
		}
		if len(rule.Match.ServerIDs) > 0 && !containsFold(rule.Match.ServerIDs, alert.ServerID) {
			continue
		}
		recs = appendUnique(recs, rule.Recommendations...)
	}
	return recs
}

func containsFold(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(v, target) {
			return true
		}
	}
	return false
}

func appendUnique(existing []string, additions ...string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, rec := range existing {
		seen[rec] = struct{}{}
	}
	for _, item := range additions {
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		existing = append(existing, item)
		seen[item] = struct{}{}
	}
	return existing
}
