package engine

import (
	"bytes"
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/miradorstack/mirador-anomaly/internal/alerts"
	"github.com/miradorstack/mirador-anomaly/internal/detectors"
	"github.com/miradorstack/mirador-anomaly/internal/history"
	"github.com/miradorstack/mirador-anomaly/internal/models"
	"github.com/miradorstack/mirador-anomaly/internal/patterns"
	"github.com/miradorstack/mirador-anomaly/internal/utils"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeSyncer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeSyncer) SyncPatterns(ctx context.Context, patterns []models.AnomalyPattern) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakeSyncer) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeSyncer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakePublisher struct {
	mu        sync.Mutex
	published map[string]int
}

func (f *fakePublisher) PublishAlerts(ctx context.Context, serverID string, batch []models.AnomalyAlert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.published == nil {
		f.published = make(map[string]int)
	}
	f.published[serverID] += len(batch)
	return nil
}

// alwaysDetector fires on every cpu reading.
type alwaysDetector struct{}

func (alwaysDetector) Name() models.DetectorKind { return models.DetectorZScore }

func (alwaysDetector) Detect(in detectors.Input) []detectors.Candidate {
	if in.Metric != models.MetricCPU {
		return nil
	}
	return []detectors.Candidate{{
		Detector: models.DetectorZScore,
		ServerID: in.ServerID,
		Metric:   in.Metric,
		Value:    in.Value,
		Severity: models.SeverityHigh,
	}}
}

type panicDetector struct{}

func (panicDetector) Name() models.DetectorKind { return models.DetectorZScore }

func (panicDetector) Detect(in detectors.Input) []detectors.Candidate {
	if in.ServerID == "bad" {
		panic("boom")
	}
	return alwaysDetector{}.Detect(in)
}

func snapshot(server string, cpu float64) models.MetricSnapshot {
	return models.MetricSnapshot{
		ServerID:       server,
		CPUUsage:       cpu,
		MemoryUsage:    50,
		DiskUsage:      50,
		ResponseTimeMs: 100,
		Status:         "online",
	}
}

func TestDetectCriticalSpikeAgainstBaseline(t *testing.T) {
	clock := newFakeClock()
	eng := New(Config{}, Deps{Now: clock.Now})
	defer eng.Close()

	ctx := context.Background()
	var sum float64
	for i := 0; i < 40; i++ {
		cpu := 10 + float64((i*7)%31)
		sum += cpu
		eng.Detect(ctx, []models.MetricSnapshot{snapshot("web-1", cpu)})
		clock.Advance(time.Minute)
	}
	mean := sum / 40

	got := eng.Detect(ctx, []models.MetricSnapshot{snapshot("web-1", 95)})
	if len(got) != 1 {
		t.Fatalf("expected exactly one alert, got %d: %+v", len(got), got)
	}
	alert := got[0]
	if alert.Detector != models.DetectorZScore {
		t.Fatalf("expected z-score alert, got %s", alert.Detector)
	}
	if alert.Severity != models.SeverityCritical {
		t.Fatalf("expected critical severity, got %s", alert.Severity)
	}
	if alert.CurrentValue != 95 {
		t.Fatalf("expected current value 95, got %v", alert.CurrentValue)
	}
	if math.Abs(alert.ExpectedValue-mean) > 1e-9 {
		t.Fatalf("expected value %v, got %v", mean, alert.ExpectedValue)
	}
	if math.Abs(alert.HistoricalContext.Average-mean) > 1e-9 {
		t.Fatalf("historical average %v, want %v", alert.HistoricalContext.Average, mean)
	}
	if alert.ID == "" || len(alert.Recommendations) == 0 {
		t.Fatalf("expected id and recommendations, got %+v", alert)
	}
	if _, ok := eng.alerts.Get(alert.ID); !ok {
		t.Fatalf("accepted alert not persisted")
	}
}

func TestDetectSkipsMalformedSnapshots(t *testing.T) {
	store := history.NewStore(100, 4)
	eng := New(Config{}, Deps{History: store})
	defer eng.Close()

	bad := snapshot("broken", 150)
	missing := snapshot("", 10)
	eng.Detect(context.Background(), []models.MetricSnapshot{snapshot("web-1", 20), bad, missing})

	stats := eng.Stats()
	if stats.SnapshotsIngested != 1 || stats.SnapshotsSkipped != 2 {
		t.Fatalf("unexpected ingest counters: %+v", stats)
	}
	if store.Len("broken", models.MetricCPU) != 0 {
		t.Fatalf("malformed snapshot reached history")
	}
	if store.Len("web-1", models.MetricCPU) != 1 {
		t.Fatalf("valid snapshot missing from history")
	}
}

func TestDetectCompletesTickWithCancelledContext(t *testing.T) {
	store := history.NewStore(100, 4)
	eng := New(Config{Workers: 1}, Deps{History: store})
	defer eng.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	servers := []string{"web-1", "web-2", "web-3"}
	batch := make([]models.MetricSnapshot, 0, len(servers))
	for _, id := range servers {
		batch = append(batch, snapshot(id, 95))
	}
	got := eng.Detect(ctx, batch)

	for _, id := range servers {
		if store.Len(id, models.MetricCPU) != 1 {
			t.Fatalf("history for %s not recorded", id)
		}
	}
	rules := 0
	for _, a := range got {
		if a.PatternID == models.PatternCPUSpike {
			rules++
		}
	}
	if rules != len(servers) {
		t.Fatalf("expected %d cpu_spike alerts, got %d of %d", len(servers), rules, len(got))
	}
	if stats := eng.Stats(); stats.SnapshotsIngested != uint64(len(servers)) {
		t.Fatalf("unexpected ingest counter: %+v", stats)
	}
}

func TestDetectDeduplicatesAcrossTicks(t *testing.T) {
	clock := newFakeClock()
	eng := New(Config{}, Deps{Now: clock.Now, Detectors: []detectors.Detector{alwaysDetector{}}})
	defer eng.Close()

	ctx := context.Background()
	batch := []models.MetricSnapshot{snapshot("A", 50)}

	if got := eng.Detect(ctx, batch); len(got) != 1 {
		t.Fatalf("first tick: expected 1 alert, got %d", len(got))
	}
	clock.Advance(5 * time.Minute)
	if got := eng.Detect(ctx, batch); len(got) != 0 {
		t.Fatalf("tick at +5m: expected suppression, got %d", len(got))
	}
	clock.Advance(6 * time.Minute)
	if got := eng.Detect(ctx, batch); len(got) != 1 {
		t.Fatalf("tick at +11m: expected 1 alert, got %d", len(got))
	}
	if eng.Stats().AlertsSuppressed != 1 {
		t.Fatalf("expected one suppressed alert, got %d", eng.Stats().AlertsSuppressed)
	}
}

func TestDetectRecoversDetectorPanic(t *testing.T) {
	eng := New(Config{Workers: 2}, Deps{Detectors: []detectors.Detector{panicDetector{}}})
	defer eng.Close()

	got := eng.Detect(context.Background(), []models.MetricSnapshot{snapshot("bad", 10), snapshot("good", 10)})
	if len(got) != 1 || got[0].ServerID != "good" {
		t.Fatalf("expected the healthy server to still alert, got %+v", got)
	}
	if eng.Stats().WorkerPanics != 1 {
		t.Fatalf("expected one recovered panic, got %d", eng.Stats().WorkerPanics)
	}
}

func TestAlertIDsStayUniqueAtSameInstant(t *testing.T) {
	clock := newFakeClock()
	store := alerts.NewStore(0, 0, clock.Now)
	eng := New(Config{}, Deps{
		Now:       clock.Now,
		Alerts:    store,
		Dedup:     alerts.NewDeduplicator(store, time.Nanosecond),
		Detectors: []detectors.Detector{alwaysDetector{}},
	})
	defer eng.Close()

	first := eng.Detect(context.Background(), []models.MetricSnapshot{snapshot("A", 10)})
	clock.Advance(time.Microsecond)
	second := eng.Detect(context.Background(), []models.MetricSnapshot{snapshot("A", 10)})
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("expected one alert per tick, got %d and %d", len(first), len(second))
	}
	if first[0].ID == second[0].ID {
		t.Fatalf("duplicate alert id %s", first[0].ID)
	}
	if store.Len() != 2 {
		t.Fatalf("expected both alerts stored, got %d", store.Len())
	}
}

func TestSyncNowRetriesAfterFailureAndThrottles(t *testing.T) {
	clock := newFakeClock()
	syncer := &fakeSyncer{err: errors.New("backend down")}
	eng := New(Config{SyncInterval: 30 * time.Minute}, Deps{Now: clock.Now, Syncer: syncer})
	defer eng.Close()

	ctx := context.Background()
	if err := eng.SyncNow(ctx); err == nil {
		t.Fatalf("expected sync failure")
	}
	if !eng.Stats().LastSync.IsZero() {
		t.Fatalf("failed sync must not record a sync time")
	}

	syncer.setErr(nil)
	if err := eng.SyncNow(ctx); err != nil {
		t.Fatalf("retry after failure should sync: %v", err)
	}
	if err := eng.SyncNow(ctx); !errors.Is(err, ErrSyncThrottled) {
		t.Fatalf("expected throttle, got %v", err)
	}

	clock.Advance(30 * time.Minute)
	if err := eng.SyncNow(ctx); err != nil {
		t.Fatalf("sync after interval: %v", err)
	}
	if syncer.count() != 3 {
		t.Fatalf("expected 3 upstream calls, got %d", syncer.count())
	}
}

func TestSyncSkippedOutsideLearningMode(t *testing.T) {
	var calls atomic.Int32
	syncer := patterns.SyncFunc(func(ctx context.Context, _ []models.AnomalyPattern) error {
		calls.Add(1)
		return nil
	})
	eng := New(Config{DisableLearning: true}, Deps{Syncer: syncer})
	defer eng.Close()

	if err := eng.SyncNow(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("sync should not run with learning mode off")
	}
}

func TestSyncNowSendsEnabledPatternsOnly(t *testing.T) {
	var mu sync.Mutex
	var sent []models.AnomalyPattern
	syncer := patterns.SyncFunc(func(ctx context.Context, batch []models.AnomalyPattern) error {
		mu.Lock()
		sent = append([]models.AnomalyPattern(nil), batch...)
		mu.Unlock()
		return nil
	})
	eng := New(Config{}, Deps{Syncer: syncer})
	defer eng.Close()

	eng.SetPatternEnabled(models.PatternCPUSpike, false)
	if err := eng.SyncNow(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(sent) != len(patterns.Defaults())-1 {
		t.Fatalf("expected %d patterns, got %d", len(patterns.Defaults())-1, len(sent))
	}
	for _, p := range sent {
		if p.ID == models.PatternCPUSpike || !p.Enabled {
			t.Fatalf("disabled pattern %s was synced", p.ID)
		}
	}
}

func TestRefreshLearnedMergesFeed(t *testing.T) {
	source := patterns.SourceFunc(func(ctx context.Context) ([]models.AnomalyPattern, error) {
		return []models.AnomalyPattern{{ID: models.PatternCPUSpike, Accuracy: 0.7, FalsePositiveRate: 0.2}}, nil
	})
	registry := patterns.NewRegistry(nil)
	eng := New(Config{}, Deps{Registry: registry, Source: source})
	defer eng.Close()

	n, err := eng.RefreshLearned(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("expected one merge, got %d (%v)", n, err)
	}
	p, _ := registry.Get(models.PatternCPUSpike)
	if p.Accuracy != 0.7 || p.Threshold != 0.85 {
		t.Fatalf("unexpected merged pattern: %+v", p)
	}

	eng.SetLearningMode(false)
	if n, _ := eng.RefreshLearned(context.Background()); n != 0 {
		t.Fatalf("learned feed merged outside learning mode")
	}
}

func TestRecordFeedbackUpdatesMeasuredQuality(t *testing.T) {
	clock := newFakeClock()
	store := alerts.NewStore(0, 0, clock.Now)
	registry := patterns.NewRegistry(nil)
	eng := New(Config{LearnedMinSamples: 2}, Deps{Now: clock.Now, Alerts: store, Registry: registry})
	defer eng.Close()

	store.Insert(models.AnomalyAlert{ID: "pattern-a", Timestamp: clock.Now(), ServerID: "A", Metric: models.MetricCPU, PatternID: models.PatternCPUSpike})
	store.Insert(models.AnomalyAlert{ID: "zscore-a", Timestamp: clock.Now(), ServerID: "A", Metric: models.MetricDisk, Detector: models.DetectorZScore})

	if err := eng.RecordFeedback("missing", true); !errors.Is(err, ErrUnknownAlert) {
		t.Fatalf("expected ErrUnknownAlert, got %v", err)
	}
	for _, tc := range []struct {
		id        string
		confirmed bool
	}{{"pattern-a", true}, {"pattern-a", false}, {"zscore-a", true}} {
		if err := eng.RecordFeedback(tc.id, tc.confirmed); err != nil {
			t.Fatalf("feedback %s: %v", tc.id, err)
		}
	}

	p, _ := registry.Get(models.PatternCPUSpike)
	if p.Accuracy != 0.5 || p.FalsePositiveRate != 0.5 {
		t.Fatalf("expected measured quality merged into cpu_spike, got %+v", p)
	}
	if len(registry.List()) != len(patterns.Defaults()) {
		t.Fatalf("feedback must not add patterns")
	}

	stats := eng.Statistics()
	if stats.Measured.Samples != 3 || stats.Measured.Confirmed != 2 {
		t.Fatalf("unexpected measured stats: %+v", stats.Measured)
	}
	if stats.TotalAnomalies != 2 {
		t.Fatalf("expected two stored anomalies, got %d", stats.TotalAnomalies)
	}
	if stats.DeclaredAccuracy <= 0 {
		t.Fatalf("declared accuracy missing: %+v", stats)
	}
}

func TestSetPatternEnabled(t *testing.T) {
	eng := New(Config{}, Deps{})
	defer eng.Close()

	if !eng.SetPatternEnabled(models.PatternCPUSpike, false) {
		t.Fatalf("expected known pattern")
	}
	if eng.SetPatternEnabled("nope", false) {
		t.Fatalf("unknown pattern should report false")
	}
	for _, p := range eng.Patterns() {
		if p.ID == models.PatternCPUSpike && p.Enabled {
			t.Fatalf("cpu_spike still enabled")
		}
	}
}

func TestSetPatternEnabledLogsOnce(t *testing.T) {
	var buf bytes.Buffer
	eng := New(Config{}, Deps{Logger: utils.NewLoggerTo(&buf, "info", false)})
	defer eng.Close()

	eng.SetPatternEnabled(models.PatternMemoryLeak, false)
	if n := strings.Count(buf.String(), "pattern toggled"); n != 1 {
		t.Fatalf("expected one toggle log line, got %d:\n%s", n, buf.String())
	}
}

func TestPredictDoesNotStoreAlerts(t *testing.T) {
	clock := newFakeClock()
	eng := New(Config{}, Deps{Now: clock.Now})
	defer eng.Close()

	got := eng.Predict([]models.MetricSnapshot{snapshot("hot", 82), snapshot("cool", 20)}, 0)
	if len(got) != 1 {
		t.Fatalf("expected one prediction, got %d", len(got))
	}
	p := got[0]
	if p.Metric != models.MetricPredictedLoad || p.Severity != models.SeverityHigh || p.Confidence != 0.75 {
		t.Fatalf("unexpected prediction: %+v", p)
	}
	if !p.Timestamp.Equal(clock.Now().Add(time.Hour)) {
		t.Fatalf("prediction timestamp %v", p.Timestamp)
	}
	if eng.Statistics().TotalAnomalies != 0 {
		t.Fatalf("predictions must not be stored")
	}
}

func TestCloseStopsBackgroundWork(t *testing.T) {
	defer goleak.VerifyNone(t)

	publisher := &fakePublisher{}
	eng := New(Config{}, Deps{Publisher: publisher, Syncer: &fakeSyncer{}, Detectors: []detectors.Detector{alwaysDetector{}}})
	eng.Detect(context.Background(), []models.MetricSnapshot{snapshot("A", 10), snapshot("B", 10)})
	eng.Close()
	eng.Close()

	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	if publisher.published["A"] != 1 || publisher.published["B"] != 1 {
		t.Fatalf("expected one published alert per server, got %v", publisher.published)
	}
}
