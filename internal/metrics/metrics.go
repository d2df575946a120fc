// Package metrics exposes the import counters scraped at /metrics.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	runsTotal     *prometheus.CounterVec
	recordsTotal  *prometheus.CounterVec
	fetchAttempts *prometheus.CounterVec
	compensated   prometheus.Counter

	runDuration *prometheus.HistogramVec
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		runsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "replay",
			Name:      "import_runs_total",
			Help:      "Total number of import runs by result.",
		}, []string{"result"}),
		recordsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "replay",
			Name:      "import_records_total",
			Help:      "Total number of processed records by outcome.",
		}, []string{"outcome"}),
		fetchAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "replay",
			Name:      "attachment_fetch_attempts_total",
			Help:      "Template fetch attempts by result.",
		}, []string{"result"}),
		compensated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "replay",
			Name:      "compensated_entities_total",
			Help:      "Entities deleted while rolling back failed runs.",
		}),
		runDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "replay",
			Name:      "import_run_duration_seconds",
			Help:      "Duration of import runs.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"result"}),
	}
})

// ObserveRun records a finished run. result is success, failure or error.
func ObserveRun(result string, duration time.Duration) {
	m := metricsSingleton()
	m.runsTotal.WithLabelValues(result).Inc()
	m.runDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// ObserveRecord counts a record by outcome (valid or invalid).
func ObserveRecord(outcome string) {
	metricsSingleton().recordsTotal.WithLabelValues(outcome).Inc()
}

// ObserveFetch counts one template fetch attempt.
func ObserveFetch(result string) {
	metricsSingleton().fetchAttempts.WithLabelValues(result).Inc()
}

// ObserveCompensation counts entities removed by a rollback.
func ObserveCompensation(n int) {
	metricsSingleton().compensated.Add(float64(n))
}
