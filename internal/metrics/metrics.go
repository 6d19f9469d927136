// internal/metrics/metrics.go
// Package metrics registers the Prometheus instrumentation for the
// pipeline. All collectors live on a private registry so tests can
// build isolated sets.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "loginstream"

// Set bundles every collector used by the pipeline components.
type Set struct {
	registry *prometheus.Registry

	// Consumed counts records fetched from the input topic, valid or not.
	Consumed prometheus.Counter
	// DecodeErrors counts records rejected at the consume boundary.
	DecodeErrors prometheus.Counter
	// Rejected counts well-formed events dropped by the filter predicate.
	Rejected prometheus.Counter
	// Accepted counts events that passed the filter.
	Accepted prometheus.Counter
	// Published counts sink outcomes by result label (ok, fail, dropped).
	Published *prometheus.CounterVec
	// PublishQueueDepth tracks events waiting to be batched.
	PublishQueueDepth prometheus.Gauge
	// Snapshots counts emitted insight snapshots.
	Snapshots prometheus.Counter
	// BreakerOpen is 1 while the publish breaker is open.
	BreakerOpen prometheus.Gauge
}

// New builds a fresh metric set on its own registry.
func New() *Set {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Set{
		registry: reg,
		Consumed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_consumed_total",
			Help:      "Records fetched from the input topic.",
		}),
		DecodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Records rejected as malformed at the consume boundary.",
		}),
		Rejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_rejected_total",
			Help:      "Events dropped by the filter predicate.",
		}),
		Accepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_accepted_total",
			Help:      "Events that passed the filter.",
		}),
		Published: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_total",
			Help:      "Publish outcomes by result.",
		}, []string{"result"}),
		PublishQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "publish_queue_depth",
			Help:      "Events waiting in the sink queue.",
		}),
		Snapshots: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "insight_snapshots_total",
			Help:      "Insight snapshots emitted.",
		}),
		BreakerOpen: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "publish_breaker_open",
			Help:      "1 while the publish circuit breaker is open.",
		}),
	}
}

// Handler exposes the set in Prometheus exposition format.
func (s *Set) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}
