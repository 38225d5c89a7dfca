// Package metrics registers the process-wide Prometheus collectors:
// classification outcomes, endpoint pool states, probe latency, and
// in-flight worker count. Collectors are global vars registered once in
// init, with plain functions instead of a method set so call sites don't
// need to thread a *metrics.Registry through every layer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	classifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "phonewatch",
		Name:      "classifications_total",
		Help:      "Total probe classifications by site and outcome.",
	}, []string{"site", "outcome"})

	endpointStates = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "phonewatch",
		Name:      "endpoint_state_count",
		Help:      "Current endpoint count per pool and state.",
	}, []string{"site", "state"})

	probeLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "phonewatch",
		Name:      "probe_latency_seconds",
		Help:      "Round-trip latency of one probe request.",
		Buckets:   prometheus.DefBuckets,
	})

	inFlightWorkers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "phonewatch",
		Name:      "probe_workers_in_flight",
		Help:      "Number of probe.Worker goroutines currently running.",
	})
)

func init() {
	prometheus.MustRegister(classifications, endpointStates, probeLatency, inFlightWorkers)
}

// RecordClassification increments the outcome counter for site.
func RecordClassification(site, outcome string) {
	classifications.WithLabelValues(site, outcome).Inc()
}

// SetEndpointState overwrites the current endpoint count for site/state
// (a gauge, not a counter, since a pool's state distribution is a snapshot,
// not a monotonic total).
func SetEndpointState(site, state string, count float64) {
	endpointStates.WithLabelValues(site, state).Set(count)
}

// ObserveProbeLatency records one probe round-trip's duration in seconds.
func ObserveProbeLatency(seconds float64) {
	probeLatency.Observe(seconds)
}

// SetInFlightWorkers overwrites the in-flight probe worker gauge.
func SetInFlightWorkers(n float64) {
	inFlightWorkers.Set(n)
}

// IncInFlightWorkers and DecInFlightWorkers track concurrent probe.Worker
// goroutines without a caller needing to coordinate on the current count.
func IncInFlightWorkers() { inFlightWorkers.Inc() }
func DecInFlightWorkers() { inFlightWorkers.Dec() }

// Handler exposes the registered collectors for the control plane's
// GET /metrics route.
func Handler() http.Handler {
	return promhttp.Handler()
}
