// Package metrics exposes Prometheus metrics for the agent's reconcile
// loop and registry client on a localhost-only HTTP listener. This is
// a read-only scrape endpoint, not an admin API: it has no mutation
// routes and cannot control peers.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the agent's Prometheus collectors.
type Metrics struct {
	ReconcileCycles  *prometheus.CounterVec
	ReconcileSeconds prometheus.Histogram
	PeerCount        prometheus.Gauge
	RegistryRTT      prometheus.Histogram
}

// New registers and returns the agent's metric collectors against reg.
// The agent passes its own *prometheus.Registry rather than
// prometheus.DefaultRegisterer; tests pass a fresh
// prometheus.NewRegistry() to avoid cross-test collisions.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ReconcileCycles: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wiremesh_agent_reconcile_cycles_total",
			Help: "Reconcile cycles by outcome (ok, error).",
		}, []string{"outcome"}),
		ReconcileSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "wiremesh_agent_reconcile_duration_seconds",
			Help:    "Duration of each reconcile cycle.",
			Buckets: prometheus.DefBuckets,
		}),
		PeerCount: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wiremesh_agent_peer_count",
			Help: "Number of peers currently known to the registry, excluding self.",
		}),
		RegistryRTT: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "wiremesh_agent_registry_rtt_seconds",
			Help:    "Round-trip latency of registry KV operations.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// NewServer builds an http.Server exposing /metrics on addr, serving
// gatherer (normally the same registry that was passed to New). The caller is responsible for
// binding addr to a loopback address and for running ListenAndServe
// and Shutdown.
func NewServer(addr string, gatherer prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return &http.Server{
		Addr:    addr,
		Handler: mux,
	}
}
