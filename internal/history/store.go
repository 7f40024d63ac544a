package history

import (
	"hash/fnv"
	"sync"
)

const (
	// DefaultCapacity bounds each (server, metric) series.
	DefaultCapacity = 10000
	// DefaultShards is the number of independently locked partitions.
	DefaultShards = 32
)

// Store keeps bounded rolling series per (server, metric) key.
//
// Keys are partitioned across shards by hash, each shard guarded by its own lock, so
// writers touching different keys rarely contend and never wait on a global lock.
type Store struct {
	capacity int
	shards   []*shard
}

type shard struct {
	mu     sync.RWMutex
	series map[seriesKey]*ring
}

type seriesKey struct {
	server string
	metric string
}

// NewStore creates a store holding at most capacity values per series.
func NewStore(capacity, shards int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if shards <= 0 {
		shards = DefaultShards
	}
	s := &Store{capacity: capacity, shards: make([]*shard, shards)}
	for i := range s.shards {
		s.shards[i] = &shard{series: make(map[seriesKey]*ring)}
	}
	return s
}

// Capacity returns the per-series bound.
func (s *Store) Capacity() int { return s.capacity }

// Record appends value to the series, evicting the oldest value when full.
func (s *Store) Record(serverID, metric string, value float64) {
	key := seriesKey{server: serverID, metric: metric}
	sh := s.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	r, ok := sh.series[key]
	if !ok {
		r = newRing(s.capacity)
		sh.series[key] = r
	}
	r.push(value)
}

// Get returns a copy of the series in insertion order (oldest first).
func (s *Store) Get(serverID, metric string) []float64 {
	key := seriesKey{server: serverID, metric: metric}
	sh := s.shardFor(key)

	sh.mu.RLock()
	defer sh.mu.RUnlock()

	r, ok := sh.series[key]
	if !ok {
		return nil
	}
	return r.values()
}

// Len returns the number of values held for the key.
func (s *Store) Len(serverID, metric string) int {
	key := seriesKey{server: serverID, metric: metric}
	sh := s.shardFor(key)

	sh.mu.RLock()
	defer sh.mu.RUnlock()

	if r, ok := sh.series[key]; ok {
		return r.size
	}
	return 0
}

// SeriesCount returns the number of tracked series across all shards.
func (s *Store) SeriesCount() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		total += len(sh.series)
		sh.mu.RUnlock()
	}
	return total
}

func (s *Store) shardFor(key seriesKey) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key.server))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(key.metric))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

// ring is a fixed-capacity FIFO buffer. Storage grows lazily up to capacity.
type ring struct {
	buf   []float64
	start int
	size  int
	cap   int
}

func newRing(capacity int) *ring {
	initial := capacity
	if initial > 64 {
		initial = 64
	}
	return &ring{buf: make([]float64, 0, initial), cap: capacity}
}

func (r *ring) push(v float64) {
	if r.size < r.cap {
		r.buf = append(r.buf, v)
		r.size++
		return
	}
	// Full: overwrite the oldest slot and advance the head.
	r.buf[r.start] = v
	r.start = (r.start + 1) % r.cap
}

func (r *ring) values() []float64 {
	out := make([]float64, r.size)
	if len(r.buf) < r.cap {
		copy(out, r.buf[:r.size])
		return out
	}
	n := copy(out, r.buf[r.start:])
	copy(out[n:], r.buf[:r.start])
	return out
}
