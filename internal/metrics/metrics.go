package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels successful background operations.
	OutcomeSuccess = "success"
	// OutcomeError labels failed background operations.
	OutcomeError = "error"
	// OutcomeSkipped labels operations skipped by throttling or an open breaker.
	OutcomeSkipped = "skipped"
)

var (
	ticksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mirador_anomaly",
			Name:      "ticks_total",
			Help:      "Total number of detection ticks processed.",
		},
	)

	tickDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mirador_anomaly",
			Name:      "tick_seconds",
			Help:      "Detection tick latency in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)

	snapshotsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_anomaly",
			Name:      "snapshots_total",
			Help:      "Metric snapshots received, partitioned by ingest result.",
		},
		[]string{"result"},
	)

	alertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_anomaly",
			Name:      "alerts_total",
			Help:      "Alerts accepted after deduplication, partitioned by detector and severity.",
		},
		[]string{"detector", "severity"},
	)

	alertsSuppressedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mirador_anomaly",
			Name:      "alerts_suppressed_total",
			Help:      "Alerts dropped inside the cooldown window.",
		},
	)

	syncTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_anomaly",
			Name:      "pattern_sync_total",
			Help:      "Pattern sync attempts, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	publishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_anomaly",
			Name:      "cache_publish_total",
			Help:      "Alert batch cache writes, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	learnedMergedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mirador_anomaly",
			Name:      "learned_patterns_merged_total",
			Help:      "Learned pattern entries merged into the registry.",
		},
	)
)

// Register attaches mirador-anomaly collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		ticksTotal,
		tickDurationSeconds,
		snapshotsTotal,
		alertsTotal,
		alertsSuppressedTotal,
		syncTotal,
		publishTotal,
		learnedMergedTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveTick records a tick duration.
func ObserveTick(duration time.Duration) {
	ticksTotal.Inc()
	if duration < 0 {
		duration = 0
	}
	tickDurationSeconds.Observe(duration.Seconds())
}

// ObserveSnapshots records how many snapshots were ingested and skipped.
func ObserveSnapshots(ingested, skipped int) {
	snapshotsTotal.WithLabelValues("ingested").Add(float64(ingested))
	snapshotsTotal.WithLabelValues("skipped").Add(float64(skipped))
}

// ObserveAlert records one accepted alert.
func ObserveAlert(detector, severity string) {
	alertsTotal.WithLabelValues(detector, severity).Inc()
}

// ObserveSuppressed records alerts dropped by deduplication.
func ObserveSuppressed(n int) {
	alertsSuppressedTotal.Add(float64(n))
}

// ObserveSync records a pattern sync outcome.
func ObserveSync(outcome string) {
	syncTotal.WithLabelValues(normalise(outcome)).Inc()
}

// ObservePublish records an alert cache publish outcome.
func ObservePublish(outcome string) {
	publishTotal.WithLabelValues(normalise(outcome)).Inc()
}

// ObserveLearnedMerge records merged learned patterns.
func ObserveLearnedMerge(n int) {
	learnedMergedTotal.Add(float64(n))
}

func normalise(outcome string) string {
	switch outcome {
	case OutcomeError, OutcomeSkipped:
		return outcome
	default:
		return OutcomeSuccess
	}
}
