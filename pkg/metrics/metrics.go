// Package metrics exposes execution counters for the benchmark and
// any embedding service over a dedicated Prometheus registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/veesix-networks/odp/pkg/logger"
)

var log = logger.Get(logger.ComponentBench)

type Metrics struct {
	registry *prometheus.Registry

	BatchesExecuted  prometheus.Counter
	PacketsProcessed prometheus.Counter
	ActionsExecuted  *prometheus.CounterVec
	DecodeErrors     prometheus.Counter
	ExecDuration     prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		BatchesExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "odp",
			Name:      "batches_executed_total",
			Help:      "Packet batches run through the action interpreter.",
		}),
		PacketsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "odp",
			Name:      "packets_processed_total",
			Help:      "Packets carried by executed batches.",
		}),
		ActionsExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "odp",
			Name:      "actions_executed_total",
			Help:      "Actions executed, by action name.",
		}, []string{"action"}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "odp",
			Name:      "decode_errors_total",
			Help:      "Flow keys or action lists that failed to decode.",
		}),
		ExecDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "odp",
			Name:      "batch_execution_seconds",
			Help:      "Wall time per batch execution.",
			Buckets:   prometheus.ExponentialBuckets(1e-7, 4, 12),
		}),
	}
	m.registry.MustRegister(
		m.BatchesExecuted,
		m.PacketsProcessed,
		m.ActionsExecuted,
		m.DecodeErrors,
		m.ExecDuration,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve blocks serving the metrics endpoint on addr.
func (m *Metrics) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	log.Info("serving metrics", "addr", addr)
	return http.ListenAndServe(addr, mux)
}
