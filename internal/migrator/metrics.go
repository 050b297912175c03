package migrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	changesetsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graphmig_changesets_total",
		Help: "Cumulative number of changesets processed, by outcome.",
	}, []string{"outcome"})

	applicationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "graphmig_changeset_applications_total",
		Help: "Cumulative number of changeset query-list applications, postcondition loops included.",
	})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graphmig_runs_total",
		Help: "Cumulative number of migration runs, by status.",
	}, []string{"status"})

	lockWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "graphmig_lock_wait_seconds",
		Help:    "Time spent acquiring the migration lock.",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	})

	runDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "graphmig_run_duration_seconds",
		Help:    "Duration of migration runs, lock wait included.",
		Buckets: prometheus.DefBuckets,
	})
)

// Run status label values.
const (
	statusSuccess  = "success"
	statusConflict = "integrity_conflict"
	statusFailed   = "failed"
)

// WriteTextfile writes the current value of every graphmig metric to path
// in the Prometheus text format, for node-exporter's textfile collector.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
