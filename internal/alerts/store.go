package alerts

import (
	"sync"
	"time"

	"github.com/miradorstack/mirador-anomaly/internal/models"
)

const (
	// DefaultRetention is how long accepted alerts are kept.
	DefaultRetention = 7 * 24 * time.Hour
	// DefaultCapacity bounds the number of stored alerts.
	DefaultCapacity = 10000
	// DefaultRecent is the number of alerts returned in statistics.
	DefaultRecent = 10
)

// Store holds accepted alerts in acceptance order, bounded by count and age.
type Store struct {
	mu        sync.RWMutex
	alerts    []models.AnomalyAlert
	byID      map[string]int
	capacity  int
	retention time.Duration
	now       func() time.Time
}

// NewStore constructs a Store. now defaults to time.Now.
func NewStore(capacity int, retention time.Duration, now func() time.Time) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	if now == nil {
		now = time.Now
	}
	return &Store{
		byID:      make(map[string]int),
		capacity:  capacity,
		retention: retention,
		now:       now,
	}
}

// Insert adds an accepted alert keyed by its id. A duplicate id replaces the stored alert.
func (s *Store) Insert(alert models.AnomalyAlert) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if idx, ok := s.byID[alert.ID]; ok {
		s.alerts[idx] = alert
		return
	}
	s.alerts = append(s.alerts, alert)
	s.byID[alert.ID] = len(s.alerts) - 1
	if len(s.alerts) > s.capacity {
		s.dropLocked(len(s.alerts) - s.capacity)
	}
}

// Get returns the alert with id.
func (s *Store) Get(id string) (models.AnomalyAlert, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byID[id]
	if !ok {
		return models.AnomalyAlert{}, false
	}
	return s.alerts[idx], true
}

// EvictOlderThan removes alerts with a timestamp before cutoff and returns how many were removed.
func (s *Store) EvictOlderThan(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictLocked(cutoff)
}

// LastAccepted returns the newest accepted timestamp for the pair, looking back no further
// than since.
func (s *Store) LastAccepted(serverID, metric string, since time.Time) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.alerts) - 1; i >= 0; i-- {
		a := s.alerts[i]
		if a.Timestamp.Before(since) {
			break
		}
		if a.ServerID == serverID && a.Metric == metric {
			return a.Timestamp, true
		}
	}
	return time.Time{}, false
}

// Len returns the number of stored alerts after applying retention.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked(s.now().Add(-s.retention))
	return len(s.alerts)
}

// Statistics aggregates the stored alerts. Quality fields are left for the caller.
func (s *Store) Statistics(recent int) models.AnomalyStatistics {
	if recent <= 0 {
		recent = DefaultRecent
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.evictLocked(now.Add(-s.retention))

	stats := models.AnomalyStatistics{TotalAnomalies: len(s.alerts)}
	dayAgo := now.Add(-24 * time.Hour)
	lastDay := 0
	for _, a := range s.alerts {
		if a.Severity == models.SeverityCritical {
			stats.CriticalAnomalies++
		}
		if !a.Timestamp.Before(dayAgo) {
			lastDay++
		}
	}
	stats.DetectionRatePerHour = float64(lastDay) / 24

	if recent > len(s.alerts) {
		recent = len(s.alerts)
	}
	stats.RecentAnomalies = make([]models.AnomalyAlert, 0, recent)
	for i := len(s.alerts) - 1; i >= len(s.alerts)-recent; i-- {
		stats.RecentAnomalies = append(stats.RecentAnomalies, s.alerts[i])
	}
	return stats
}

func (s *Store) evictLocked(cutoff time.Time) int {
	n := 0
	for n < len(s.alerts) && s.alerts[n].Timestamp.Before(cutoff) {
		n++
	}
	if n > 0 {
		s.dropLocked(n)
	}
	return n
}

// dropLocked removes the n oldest alerts and reindexes.
func (s *Store) dropLocked(n int) {
	for _, a := range s.alerts[:n] {
		delete(s.byID, a.ID)
	}
	remaining := make([]models.AnomalyAlert, len(s.alerts)-n)
	copy(remaining, s.alerts[n:])
	s.alerts = remaining
	for i, a := range s.alerts {
		s.byID[a.ID] = i
	}
}
