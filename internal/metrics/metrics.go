package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels successful ticks and probes.
	OutcomeSuccess = "success"
	// OutcomeError labels failed ticks and probes.
	OutcomeError = "error"
)

var (
	ticksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_sentinel",
			Name:      "ticks_total",
			Help:      "Scheduler ticks, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	tickDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mirador_sentinel",
			Name:      "tick_seconds",
			Help:      "Duration of a scheduler tick in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	probesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_sentinel",
			Name:      "probes_total",
			Help:      "Probe attempts, partitioned by source type and outcome.",
		},
		[]string{"source_type", "outcome"},
	)

	probeDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mirador_sentinel",
			Name:      "probe_seconds",
			Help:      "Probe processing time in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"source_type"},
	)

	patternsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_sentinel",
			Name:      "patterns_total",
			Help:      "Pattern snapshots produced, partitioned by trend.",
		},
		[]string{"trend"},
	)

	alertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_sentinel",
			Name:      "alerts_total",
			Help:      "Alerts raised, partitioned by category.",
		},
		[]string{"category"},
	)

	alertFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mirador_sentinel",
			Name:      "alert_delivery_failures_total",
			Help:      "Alert deliveries that failed.",
		},
	)

	persistFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mirador_sentinel",
			Name:      "persist_failures_total",
			Help:      "Probe commits that could not be written to the store.",
		},
	)

	prunedRowsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mirador_sentinel",
			Name:      "pruned_rows_total",
			Help:      "History rows removed by retention.",
		},
	)

	dueSources = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mirador_sentinel",
			Name:      "due_sources",
			Help:      "Sources selected by the most recent tick.",
		},
	)
)

// Register attaches mirador-sentinel collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		ticksTotal,
		tickDurationSeconds,
		probesTotal,
		probeDurationSeconds,
		patternsTotal,
		alertsTotal,
		alertFailuresTotal,
		persistFailuresTotal,
		prunedRowsTotal,
		dueSources,
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

// ObserveTick records a tick duration, outcome label and the number of due sources.
func ObserveTick(duration time.Duration, outcome string, due int) {
	ticksTotal.WithLabelValues(normaliseOutcome(outcome)).Inc()
	if duration < 0 {
		duration = 0
	}
	tickDurationSeconds.Observe(duration.Seconds())
	dueSources.Set(float64(due))
}

// ObserveProbe records one probe attempt.
func ObserveProbe(sourceType string, seconds float64, success bool) {
	outcome := OutcomeSuccess
	if !success {
		outcome = OutcomeError
	}
	probesTotal.WithLabelValues(sourceType, outcome).Inc()
	if seconds < 0 {
		seconds = 0
	}
	probeDurationSeconds.WithLabelValues(sourceType).Observe(seconds)
}

// IncPattern counts a pattern snapshot.
func IncPattern(trend string) {
	patternsTotal.WithLabelValues(trend).Inc()
}

// IncAlert counts a raised alert.
func IncAlert(category string) {
	alertsTotal.WithLabelValues(category).Inc()
}

// IncAlertFailure counts a failed alert delivery.
func IncAlertFailure() {
	alertFailuresTotal.Inc()
}

// IncPersistFailure counts a commit the store rejected.
func IncPersistFailure() {
	persistFailuresTotal.Inc()
}

// AddPruned counts rows removed by retention.
func AddPruned(n int64) {
	if n > 0 {
		prunedRowsTotal.Add(float64(n))
	}
}

func normaliseOutcome(outcome string) string {
	if outcome != OutcomeError {
		return OutcomeSuccess
	}
	return OutcomeError
}
