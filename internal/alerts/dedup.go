package alerts

import (
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/miradorstack/mirador-anomaly/internal/models"
)

const (
	// DefaultCooldown is the minimum gap between two accepted alerts for one server and metric.
	DefaultCooldown  = 10 * time.Minute
	defaultIndexSize = 65536
)

type pairKey struct {
	server string
	metric string
}

// Deduplicator suppresses repeat alerts for the same (server, metric) inside a cooldown window.
//
// Recently accepted timestamps live in a bounded LRU; on a miss the store is consulted.
type Deduplicator struct {
	store    *Store
	cooldown time.Duration
	index    *lru.Cache[pairKey, time.Time]
}

// NewDeduplicator constructs a Deduplicator backed by store.
func NewDeduplicator(store *Store, cooldown time.Duration) *Deduplicator {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	index, err := lru.New[pairKey, time.Time](defaultIndexSize)
	if err != nil {
		panic(err)
	}
	return &Deduplicator{store: store, cooldown: cooldown, index: index}
}

// Filter orders alerts by timestamp and returns the ones outside the cooldown window, in
// that order. Accepted alerts are inserted into the store. Filter is not safe for
// concurrent use; the engine calls it once per tick.
func (d *Deduplicator) Filter(candidates []models.AnomalyAlert) (accepted []models.AnomalyAlert, suppressed int) {
	ordered := append([]models.AnomalyAlert(nil), candidates...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	for _, alert := range ordered {
		key := pairKey{server: alert.ServerID, metric: alert.Metric}
		if last, ok := d.lastAccepted(key, alert.Timestamp); ok && within(alert.Timestamp, last, d.cooldown) {
			suppressed++
			continue
		}
		d.index.Add(key, alert.Timestamp)
		if d.store != nil {
			d.store.Insert(alert)
		}
		accepted = append(accepted, alert)
	}
	return accepted, suppressed
}

func (d *Deduplicator) lastAccepted(key pairKey, at time.Time) (time.Time, bool) {
	if last, ok := d.index.Get(key); ok {
		return last, true
	}
	if d.store == nil {
		return time.Time{}, false
	}
	return d.store.LastAccepted(key.server, key.metric, at.Add(-d.cooldown))
}

func within(t, last time.Time, window time.Duration) bool {
	gap := t.Sub(last)
	if gap < 0 {
		gap = -gap
	}
	return gap < window
}
