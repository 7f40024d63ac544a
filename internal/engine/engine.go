package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-anomaly/internal/alerts"
	"github.com/miradorstack/mirador-anomaly/internal/detectors"
	"github.com/miradorstack/mirador-anomaly/internal/history"
	"github.com/miradorstack/mirador-anomaly/internal/metrics"
	"github.com/miradorstack/mirador-anomaly/internal/models"
	"github.com/miradorstack/mirador-anomaly/internal/patterns"
	"github.com/miradorstack/mirador-anomaly/internal/predict"
	"github.com/miradorstack/mirador-anomaly/internal/scoring"
	"github.com/miradorstack/mirador-anomaly/internal/utils"
)

// PatternSyncer pushes the current pattern set to a remote backend.
type PatternSyncer = patterns.Syncer

// LearnedPatternSource returns patterns learned elsewhere.
type LearnedPatternSource = patterns.Source

// AlertPublisher writes accepted alerts for one server to an external cache.
type AlertPublisher interface {
	PublishAlerts(ctx context.Context, serverID string, alerts []models.AnomalyAlert) error
}

// Config tunes the engine. Zero values select defaults.
type Config struct {
	Workers           int
	ZThreshold        float64
	ZMinSamples       int
	IQRMultiplier     float64
	IQRMinSamples     int
	CompositeFraction float64
	PredictionHorizon time.Duration

	// DisableLearning starts the engine with learning mode off.
	DisableLearning   bool
	SyncInterval      time.Duration
	SyncTimeout       time.Duration
	PublishTimeout    time.Duration
	LearnedMinSamples int

	// Models optionally overrides detector thresholds per metric name.
	Models map[string]*models.DetectionModel
}

// Deps are the collaborators the engine is built from. Nil stores are created with defaults.
type Deps struct {
	Logger      *slog.Logger
	History     *history.Store
	Registry    *patterns.Registry
	Alerts      *alerts.Store
	Dedup       *alerts.Deduplicator
	Recommender *scoring.Recommender
	Tracker     *patterns.Tracker
	Predictor   *predict.Predictor
	Publisher   AlertPublisher
	Syncer      PatternSyncer
	Source      LearnedPatternSource
	// Detectors replaces the default z-score, IQR and rule detectors.
	Detectors []detectors.Detector
	Now       func() time.Time
}

// Stats are engine counters for operators.
type Stats struct {
	Ticks             uint64        `json:"ticks"`
	SnapshotsIngested uint64        `json:"snapshotsIngested"`
	SnapshotsSkipped  uint64        `json:"snapshotsSkipped"`
	AlertsSuppressed  uint64        `json:"alertsSuppressed"`
	WorkerPanics      uint64        `json:"workerPanics"`
	LearningMode      bool          `json:"learningMode"`
	LastSync          time.Time     `json:"lastSync"`
	TickP95           time.Duration `json:"tickP95"`
}

const (
	defaultSyncInterval      = 30 * time.Minute
	defaultSyncTimeout       = 30 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultLearnedMinSamples = 20
	recentAlerts             = 10
)

// Engine runs detection ticks over snapshot batches.
type Engine struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	history     *history.Store
	registry    *patterns.Registry
	alerts      *alerts.Store
	dedup       *alerts.Deduplicator
	recommender *scoring.Recommender
	tracker     *patterns.Tracker
	predictor   *predict.Predictor
	publisher   AlertPublisher
	syncer      PatternSyncer
	source      LearnedPatternSource

	perMetric []detectors.Detector
	composite *detectors.CompositeDetector

	// tickMu serialises ticks; dedup and alert id assignment assume one tick at a time.
	tickMu    sync.Mutex
	seq       atomic.Uint64
	latencies *utils.LatencyTracker

	learning atomic.Bool

	syncRunMu sync.Mutex
	syncMu    sync.Mutex
	lastSync  time.Time
	syncReq   chan struct{}

	ticks        atomic.Uint64
	ingested     atomic.Uint64
	skipped      atomic.Uint64
	suppressed   atomic.Uint64
	workerPanics atomic.Uint64

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bgMu     sync.Mutex
	wg       sync.WaitGroup
	closed   bool
}

// New constructs an engine and starts its background sync worker. Call Close to stop it.
func New(cfg Config, deps Deps) *Engine {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.History == nil {
		deps.History = history.NewStore(0, 0)
	}
	if deps.Registry == nil {
		deps.Registry = patterns.NewRegistry(deps.Logger)
	}
	if deps.Alerts == nil {
		deps.Alerts = alerts.NewStore(0, 0, deps.Now)
	}
	if deps.Dedup == nil {
		deps.Dedup = alerts.NewDeduplicator(deps.Alerts, 0)
	}
	if deps.Recommender == nil {
		deps.Recommender = scoring.NewRecommender(deps.Logger)
	}
	if deps.Tracker == nil {
		deps.Tracker = patterns.NewTracker()
	}
	if deps.Predictor == nil {
		deps.Predictor = predict.NewPredictor()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = defaultSyncInterval
	}
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = defaultSyncTimeout
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	if cfg.LearnedMinSamples <= 0 {
		cfg.LearnedMinSamples = defaultLearnedMinSamples
	}
	if cfg.PredictionHorizon <= 0 {
		cfg.PredictionHorizon = predict.DefaultHorizon
	}

	perMetric := deps.Detectors
	if len(perMetric) == 0 {
		perMetric = []detectors.Detector{
			detectors.NewStatisticalDetector(cfg.ZThreshold, cfg.ZMinSamples),
			detectors.NewRangeDetector(cfg.IQRMultiplier, cfg.IQRMinSamples),
			detectors.NewRuleDetector(deps.Registry, nil),
		}
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:         cfg,
		logger:      deps.Logger,
		now:         deps.Now,
		history:     deps.History,
		registry:    deps.Registry,
		alerts:      deps.Alerts,
		dedup:       deps.Dedup,
		recommender: deps.Recommender,
		tracker:     deps.Tracker,
		predictor:   deps.Predictor,
		publisher:   deps.Publisher,
		syncer:      deps.Syncer,
		source:      deps.Source,
		perMetric:   perMetric,
		composite:   detectors.NewCompositeDetector(deps.Registry, cfg.CompositeFraction),
		latencies:   utils.NewLatencyTracker(1024),
		syncReq:     make(chan struct{}, 1),
		bgCtx:       bgCtx,
		bgCancel:    cancel,
	}
	e.learning.Store(!cfg.DisableLearning)

	e.goBackground(e.syncLoop)
	return e
}

// Close stops background work and waits for in-flight publishes and syncs to finish.
func (e *Engine) Close() {
	e.bgMu.Lock()
	if e.closed {
		e.bgMu.Unlock()
		return
	}
	e.closed = true
	e.bgMu.Unlock()

	e.bgCancel()
	e.wg.Wait()
}

// goBackground runs fn on a tracked goroutine unless the engine is closed.
func (e *Engine) goBackground(fn func()) bool {
	e.bgMu.Lock()
	defer e.bgMu.Unlock()
	if e.closed {
		return false
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn()
	}()
	return true
}

// Detect runs one tick over batch and returns the accepted alerts, oldest first.
// Malformed snapshots are skipped and counted; Detect never fails the whole batch.
// A tick is not cancellable: once started, every valid snapshot is recorded and
// evaluated even if ctx is done.
func (e *Engine) Detect(ctx context.Context, batch []models.MetricSnapshot) []models.AnomalyAlert {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	start := time.Now()
	at := e.now()
	logger := e.logger.With(slog.String("tick_id", uuid.NewString()))

	if ctx.Err() != nil {
		logger.Debug("caller context done, completing tick", slog.Any("error", ctx.Err()))
	}

	valid := e.validate(batch, logger)
	candidates := e.detectServers(valid, logger)
	for _, c := range e.composite.Detect(valid) {
		candidates = append(candidates, scoredCandidate{candidate: c})
	}

	scored := make([]models.AnomalyAlert, 0, len(candidates))
	for _, c := range candidates {
		scored = append(scored, e.toAlert(c.candidate, c.prior, at))
	}

	accepted, suppressed := e.dedup.Filter(scored)
	e.suppressed.Add(uint64(suppressed))
	metrics.ObserveSuppressed(suppressed)
	for _, a := range accepted {
		metrics.ObserveAlert(string(a.Detector), string(a.Severity))
	}

	e.publish(accepted)
	e.RequestSync()

	duration := time.Since(start)
	e.ticks.Add(1)
	e.latencies.Observe(duration)
	metrics.ObserveTick(duration)
	if count := e.latencies.Count(); count >= 20 && count%20 == 0 {
		logger.Info("tick latency", slog.Duration("p95", e.latencies.Percentile(95)), slog.Int("samples", count))
	}
	logger.DebugContext(ctx, "tick complete",
		slog.Int("snapshots", len(valid)),
		slog.Int("candidates", len(scored)),
		slog.Int("accepted", len(accepted)),
		slog.Int("suppressed", suppressed))
	return accepted
}

func (e *Engine) validate(batch []models.MetricSnapshot, logger *slog.Logger) []models.MetricSnapshot {
	valid := make([]models.MetricSnapshot, 0, len(batch))
	for _, s := range batch {
		if err := s.Validate(); err != nil {
			logger.Warn("skipping snapshot", slog.String("server_id", s.ServerID), slog.Any("error", err))
			continue
		}
		valid = append(valid, s)
	}
	skipped := len(batch) - len(valid)
	e.ingested.Add(uint64(len(valid)))
	e.skipped.Add(uint64(skipped))
	metrics.ObserveSnapshots(len(valid), skipped)
	return valid
}

type scoredCandidate struct {
	candidate detectors.Candidate
	prior     []float64
}

// detectServers groups the batch by server and evaluates each server on the worker pool.
// Results are returned in batch order.
func (e *Engine) detectServers(batch []models.MetricSnapshot, logger *slog.Logger) []scoredCandidate {
	order := make([]string, 0, len(batch))
	byServer := make(map[string][]models.MetricSnapshot, len(batch))
	for _, s := range batch {
		if _, ok := byServer[s.ServerID]; !ok {
			order = append(order, s.ServerID)
		}
		byServer[s.ServerID] = append(byServer[s.ServerID], s)
	}

	results := make([][]scoredCandidate, len(order))
	jobs := make(chan int)
	workers := e.cfg.Workers
	if workers > len(order) {
		workers = len(order)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				results[idx] = e.detectServer(byServer[order[idx]], logger)
			}
		}()
	}

	for idx := range order {
		jobs <- idx
	}
	close(jobs)
	wg.Wait()

	var out []scoredCandidate
	for _, r := range results {
		out = append(out, r...)
	}
	return out
}

func (e *Engine) detectServer(snapshots []models.MetricSnapshot, logger *slog.Logger) (out []scoredCandidate) {
	defer func() {
		if r := recover(); r != nil {
			e.workerPanics.Add(1)
			logger.Error("detector panic", slog.String("server_id", snapshots[0].ServerID), slog.Any("panic", r))
		}
	}()

	for _, s := range snapshots {
		for _, m := range s.Metrics() {
			prior := e.history.Get(s.ServerID, m.Name)
			e.history.Record(s.ServerID, m.Name, m.Value)
			in := detectors.Input{
				ServerID: s.ServerID,
				Metric:   m.Name,
				Value:    m.Value,
				History:  prior,
				Model:    e.cfg.Models[m.Name],
			}
			for _, d := range e.perMetric {
				for _, c := range d.Detect(in) {
					out = append(out, scoredCandidate{candidate: c, prior: prior})
				}
			}
		}
	}
	return out
}

func (e *Engine) toAlert(c detectors.Candidate, prior []float64, at time.Time) models.AnomalyAlert {
	alert := models.AnomalyAlert{
		ID:            e.alertID(c.Detector, c.ServerID, c.Metric, at),
		Timestamp:     at,
		ServerID:      c.ServerID,
		Metric:        c.Metric,
		CurrentValue:  c.Value,
		ExpectedValue: c.Expected,
		Severity:      c.Severity,
		Confidence:    scoring.Clamp(c.Confidence, 0, 1),
		Description:   c.Description,
		Detector:      c.Detector,
		PatternID:     c.PatternID,
	}
	alert.HistoricalContext = scoring.Context(prior)

	switch c.Detector {
	case models.DetectorComposite:
		alert.Recommendations = e.recommender.ForComposite(alert)
	case models.DetectorRule:
		alert.Recommendations = e.recommender.ForPattern(c.PatternID, alert)
	default:
		alert.Recommendations = e.recommender.ForMetric(alert)
	}
	return alert
}

// alertID builds "<detector>-<server>-<metric>-<unix millis>" and appends a sequence number
// when that id is already taken.
func (e *Engine) alertID(detector models.DetectorKind, serverID, metric string, at time.Time) string {
	id := fmt.Sprintf("%s-%s-%s-%d", detector, serverID, metric, at.UnixMilli())
	if _, taken := e.alerts.Get(id); !taken {
		return id
	}
	return fmt.Sprintf("%s-%d", id, e.seq.Add(1))
}

func (e *Engine) publish(accepted []models.AnomalyAlert) {
	if e.publisher == nil || len(accepted) == 0 {
		return
	}
	byServer := make(map[string][]models.AnomalyAlert)
	for _, a := range accepted {
		byServer[a.ServerID] = append(byServer[a.ServerID], a)
	}

	e.goBackground(func() {
		ctx, cancel := context.WithTimeout(e.bgCtx, e.cfg.PublishTimeout)
		defer cancel()
		for serverID, batch := range byServer {
			if err := e.publisher.PublishAlerts(ctx, serverID, batch); err != nil {
				metrics.ObservePublish(metrics.OutcomeError)
				e.logger.Warn("alert publish failed", slog.String("server_id", serverID), slog.Any("error", err))
				continue
			}
			metrics.ObservePublish(metrics.OutcomeSuccess)
		}
	})
}

// Stats returns a snapshot of engine counters.
func (e *Engine) Stats() Stats {
	lastSync := e.lastSyncTime()
	return Stats{
		Ticks:             e.ticks.Load(),
		SnapshotsIngested: e.ingested.Load(),
		SnapshotsSkipped:  e.skipped.Load(),
		AlertsSuppressed:  e.suppressed.Load(),
		WorkerPanics:      e.workerPanics.Load(),
		LearningMode:      e.learning.Load(),
		LastSync:          lastSync,
		TickP95:           e.latencies.Percentile(95),
	}
}
