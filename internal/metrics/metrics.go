// Package metrics defines Prometheus metrics for the monitoring pipeline.
//
// Counters and histograms are registered with the default registry at init
// and served by promhttp on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ProbesTotal counts probe outcomes by status (UP or DOWN).
	ProbesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uptimewatch_probes_total",
			Help: "Total number of probes by outcome status.",
		},
		[]string{"status"},
	)

	// ProbeDurationSeconds is a histogram of probe latency.
	ProbeDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "uptimewatch_probe_duration_seconds",
			Help:    "Duration of outbound probes in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	// AlertsTotal counts state machine events by kind (alert or recovery).
	AlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uptimewatch_alerts_total",
			Help: "Total alert and recovery transitions.",
		},
		[]string{"kind"},
	)

	// SweepsTotal counts scheduler ticks by result (completed or skipped).
	SweepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uptimewatch_sweeps_total",
			Help: "Total scheduler ticks by result.",
		},
		[]string{"result"},
	)

	ObservationWriteFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "uptimewatch_observation_write_failures_total",
			Help: "Total observations that could not be persisted.",
		},
	)

	RetentionDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "uptimewatch_retention_deleted_total",
			Help: "Total observations removed by the retention sweeper.",
		},
	)

	// SweepInProgress is 1 while a scheduler sweep is running.
	SweepInProgress = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "uptimewatch_sweep_in_progress",
			Help: "Whether a scheduler sweep is currently running.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		ProbesTotal,
		ProbeDurationSeconds,
		AlertsTotal,
		SweepsTotal,
		ObservationWriteFailuresTotal,
		RetentionDeletedTotal,
		SweepInProgress,
	)
}

// HubStats provides WebSocket connection info.
type HubStats interface {
	Connected() int
}

// RegisterHub exposes the hub's connection count as a gauge.
func RegisterHub(reg prometheus.Registerer, hub HubStats) error {
	return reg.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "uptimewatch_websocket_connections",
			Help: "Current active WebSocket connections.",
		},
		func() float64 { return float64(hub.Connected()) },
	))
}

// RecordProbe records a single probe outcome.
func RecordProbe(status string, elapsed time.Duration) {
	ProbesTotal.WithLabelValues(status).Inc()
	ProbeDurationSeconds.Observe(elapsed.Seconds())
}

func RecordAlert(kind string) {
	AlertsTotal.WithLabelValues(kind).Inc()
}

func RecordSweep(result string) {
	SweepsTotal.WithLabelValues(result).Inc()
}

// SetSweepInProgress flips the sweep gauge.
func SetSweepInProgress(running bool) {
	if running {
		SweepInProgress.Set(1)
		return
	}
	SweepInProgress.Set(0)
}

func RecordObservationWriteFailure() {
	ObservationWriteFailuresTotal.Inc()
}

func RecordRetentionDeleted(n int64) {
	if n > 0 {
		RetentionDeletedTotal.Add(float64(n))
	}
}
