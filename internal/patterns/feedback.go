package patterns

import (
	"sort"
	"sync"

	"github.com/miradorstack/mirador-anomaly/internal/models"
)

// Tracker aggregates operator feedback into measured quality, overall and per pattern.
type Tracker struct {
	mu        sync.Mutex
	overall   verdicts
	byPattern map[string]*verdicts
}

type verdicts struct {
	confirmed      int
	falsePositives int
}

func (v verdicts) total() int { return v.confirmed + v.falsePositives }

// NewTracker constructs an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{byPattern: make(map[string]*verdicts)}
}

// Record adds one verdict. patternID may be empty for statistical alerts.
func (t *Tracker) Record(patternID string, confirmed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.overall.add(confirmed)
	if patternID == "" {
		return
	}
	v, ok := t.byPattern[patternID]
	if !ok {
		v = &verdicts{}
		t.byPattern[patternID] = v
	}
	v.add(confirmed)
}

// Measured returns live statistics across every verdict.
func (t *Tracker) Measured() models.MeasuredStatistics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.overall.stats()
}

// Learned converts per-pattern feedback with at least minSamples verdicts into learned
// patterns carrying measured accuracy and false-positive rate, most sampled first.
func (t *Tracker) Learned(minSamples int) []models.AnomalyPattern {
	t.mu.Lock()
	defer t.mu.Unlock()

	if minSamples <= 0 {
		minSamples = 1
	}
	learned := make([]models.AnomalyPattern, 0, len(t.byPattern))
	samples := make(map[string]int, len(t.byPattern))
	for id, v := range t.byPattern {
		if v.total() < minSamples {
			continue
		}
		stats := v.stats()
		learned = append(learned, models.AnomalyPattern{
			ID:                id,
			Name:              id,
			Accuracy:          stats.Accuracy,
			FalsePositiveRate: stats.FalsePositiveRate,
		})
		samples[id] = stats.Samples
	}
	sort.Slice(learned, func(i, j int) bool {
		if samples[learned[i].ID] != samples[learned[j].ID] {
			return samples[learned[i].ID] > samples[learned[j].ID]
		}
		return learned[i].ID < learned[j].ID
	})
	return learned
}

func (v *verdicts) add(confirmed bool) {
	if confirmed {
		v.confirmed++
	} else {
		v.falsePositives++
	}
}

func (v verdicts) stats() models.MeasuredStatistics {
	out := models.MeasuredStatistics{
		Samples:        v.total(),
		Confirmed:      v.confirmed,
		FalsePositives: v.falsePositives,
	}
	if out.Samples > 0 {
		out.Accuracy = float64(v.confirmed) / float64(out.Samples)
		out.FalsePositiveRate = float64(v.falsePositives) / float64(out.Samples)
	}
	return out
}
