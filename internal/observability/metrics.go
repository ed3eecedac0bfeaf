package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"beaconrig/domain/metrics"
)

// Reconstruction and results API counters, partitioned by condition or route.

var (
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "beaconrig",
		Subsystem: "engine",
		Name:      "runs_total",
		Help:      "Total reconstruction runs",
	}, []string{"outcome"})

	TrialsAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "beaconrig",
		Subsystem: "engine",
		Name:      "trials_accepted_total",
		Help:      "Trials that produced metrics",
	}, []string{"condition"})

	Exclusions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "beaconrig",
		Subsystem: "engine",
		Name:      "exclusions_total",
		Help:      "Logs excluded from reconstruction",
	}, []string{"kind"})

	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "beaconrig",
		Subsystem: "engine",
		Name:      "run_duration_seconds",
		Help:      "Wall time of one reconstruction run",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "beaconrig",
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "Results API requests",
	}, []string{"route", "status"})
)

// ObserveRun records the outcome of a finished reconstruction
func ObserveRun(rep *metrics.Report, elapsed time.Duration) {
	RunsTotal.WithLabelValues("ok").Inc()
	RunDuration.Observe(elapsed.Seconds())
	for _, t := range rep.Trials {
		TrialsAccepted.WithLabelValues(t.Condition).Inc()
	}
	for _, e := range rep.Exclusions {
		Exclusions.WithLabelValues(string(e.Kind)).Inc()
	}
}

// ObserveRunFailure counts a reconstruction that returned an error
func ObserveRunFailure() {
	RunsTotal.WithLabelValues("error").Inc()
}

// ObserveRequest counts one API response
func ObserveRequest(route string, status int) {
	APIRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}
