package patterns

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-anomaly/internal/models"
)

// Defaults returns the built-in detection patterns.
func Defaults() []models.AnomalyPattern {
	return []models.AnomalyPattern{
		{
			ID:                models.PatternCPUSpike,
			Name:              "CPU spike",
			Description:       "CPU usage above the spike threshold",
			Threshold:         0.85,
			Enabled:           true,
			Accuracy:          0.92,
			FalsePositiveRate: 0.05,
		},
		{
			ID:                models.PatternMemoryLeak,
			Name:              "Memory leak",
			Description:       "Memory usage climbing steadily above the leak threshold",
			Threshold:         0.80,
			Enabled:           true,
			Accuracy:          0.88,
			FalsePositiveRate: 0.08,
		},
		{
			ID:                models.PatternDisk,
			Name:              "Disk anomaly",
			Description:       "Disk usage close to capacity",
			Threshold:         0.90,
			Enabled:           true,
			Accuracy:          0.95,
			FalsePositiveRate: 0.03,
		},
		{
			ID:                models.PatternNetwork,
			Name:              "Network anomaly",
			Description:       "Response time above the latency threshold",
			Threshold:         0.80,
			Enabled:           true,
			Accuracy:          0.85,
			FalsePositiveRate: 0.10,
		},
		{
			ID:                models.PatternComposite,
			Name:              "Composite anomaly",
			Description:       "A large share of servers are abnormal at the same time",
			Threshold:         0.30,
			Enabled:           true,
			Accuracy:          0.90,
			FalsePositiveRate: 0.06,
		},
	}
}

// Registry is the catalog of detection patterns.
//
// Reads are lock-free against an immutable snapshot; writers serialise on mu and publish
// a fresh copy.
type Registry struct {
	mu       sync.Mutex
	snapshot atomic.Pointer[[]models.AnomalyPattern]
	logger   *slog.Logger
}

// NewRegistry seeds the built-in patterns, then applies seed overrides by id
// (replacing built-ins, appending unknown ids).
func NewRegistry(logger *slog.Logger, seed ...models.AnomalyPattern) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{logger: logger}

	patterns := Defaults()
	for _, p := range seed {
		if err := validate(p); err != nil {
			logger.Warn("ignoring seed pattern", slog.String("id", p.ID), slog.Any("error", err))
			continue
		}
		if idx := indexOf(patterns, p.ID); idx >= 0 {
			patterns[idx] = p
			continue
		}
		patterns = append(patterns, p)
	}
	r.snapshot.Store(&patterns)
	return r
}

// LoadSeedFile reads pattern overrides from a YAML file. A missing file yields no overrides.
func LoadSeedFile(path string) ([]models.AnomalyPattern, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read pattern seed: %w", err)
	}
	var file struct {
		Patterns []models.AnomalyPattern `yaml:"patterns"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse pattern seed: %w", err)
	}
	return file.Patterns, nil
}

// List returns every pattern.
func (r *Registry) List() []models.AnomalyPattern {
	current := *r.snapshot.Load()
	return append([]models.AnomalyPattern(nil), current...)
}

// ListEnabled returns the enabled patterns. Detectors read the registry only through this.
func (r *Registry) ListEnabled() []models.AnomalyPattern {
	current := *r.snapshot.Load()
	enabled := make([]models.AnomalyPattern, 0, len(current))
	for _, p := range current {
		if p.Enabled {
			enabled = append(enabled, p)
		}
	}
	return enabled
}

// Get returns the pattern with id.
func (r *Registry) Get(id string) (models.AnomalyPattern, bool) {
	for _, p := range *r.snapshot.Load() {
		if p.ID == id {
			return p, true
		}
	}
	return models.AnomalyPattern{}, false
}

// SetEnabled toggles a pattern. Unknown ids are logged and ignored; the return value
// reports whether a pattern was found.
func (r *Registry) SetEnabled(id string, enabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := append([]models.AnomalyPattern(nil), *r.snapshot.Load()...)
	idx := indexOf(next, id)
	if idx < 0 {
		r.logger.Warn("unknown pattern", slog.String("id", id))
		return false
	}
	next[idx].Enabled = enabled
	r.snapshot.Store(&next)
	r.logger.Info("pattern toggled", slog.String("id", id), slog.Bool("enabled", enabled))
	return true
}

// MergeLearned folds learned patterns into the registry. Known ids get their accuracy and
// false-positive rate overwritten; unknown ids are appended as-is. Invalid entries are skipped.
// It returns the number of entries applied.
func (r *Registry) MergeLearned(learned []models.AnomalyPattern) int {
	if len(learned) == 0 {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	next := append([]models.AnomalyPattern(nil), *r.snapshot.Load()...)
	applied := 0
	for _, p := range learned {
		if err := validate(p); err != nil {
			r.logger.Warn("ignoring learned pattern", slog.String("id", p.ID), slog.Any("error", err))
			continue
		}
		if idx := indexOf(next, p.ID); idx >= 0 {
			next[idx].Accuracy = p.Accuracy
			next[idx].FalsePositiveRate = p.FalsePositiveRate
		} else {
			next = append(next, p)
		}
		applied++
	}
	r.snapshot.Store(&next)
	return applied
}

// DeclaredQuality averages the configured accuracy and false-positive rate of enabled patterns.
func (r *Registry) DeclaredQuality() (accuracy, falsePositiveRate float64) {
	enabled := r.ListEnabled()
	if len(enabled) == 0 {
		return 0, 0
	}
	for _, p := range enabled {
		accuracy += p.Accuracy
		falsePositiveRate += p.FalsePositiveRate
	}
	n := float64(len(enabled))
	return accuracy / n, falsePositiveRate / n
}

func validate(p models.AnomalyPattern) error {
	if p.ID == "" {
		return errors.New("pattern id is required")
	}
	if !unit(p.Threshold) || !unit(p.Accuracy) || !unit(p.FalsePositiveRate) {
		return fmt.Errorf("pattern %s has values outside [0,1]", p.ID)
	}
	return nil
}

func unit(v float64) bool {
	return v >= 0 && v <= 1
}

func indexOf(patterns []models.AnomalyPattern, id string) int {
	for i, p := range patterns {
		if p.ID == id {
			return i
		}
	}
	return -1
}
