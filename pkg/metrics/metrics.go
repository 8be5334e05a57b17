// Package metrics exposes neuroweave counters to Prometheus.
//
// Bus and graph figures are sampled at scrape time from their owners;
// pipeline figures are recorded by the facade as messages and questions are
// handled.
package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haivivi/neuroweave/pkg/graph"
)

// Namespace prefixes every metric name.
const Namespace = "neuroweave"

// NewRegistry returns a registry with the Go runtime and process collectors
// installed.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves reg in the Prometheus text format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// BusSource is the part of an event bus that is sampled.
type BusSource interface {
	SubscriberCount() int
	EmitCount() int64
	TimeoutCount() int64
	ErrorCount() int64
}

// RegisterBus registers scrape-time collectors over b.
func RegisterBus(reg prometheus.Registerer, b BusSource) error {
	return register(reg,
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "events",
			Name:      "emitted_total",
			Help:      "Events emitted on the bus.",
		}, func() float64 { return float64(b.EmitCount()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "event_handler",
			Name:      "timeouts_total",
			Help:      "Handler invocations that overran their deadline.",
		}, func() float64 { return float64(b.TimeoutCount()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "event_handler",
			Name:      "errors_total",
			Help:      "Handler invocations that returned an error or panicked.",
		}, func() float64 { return float64(b.ErrorCount()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "events",
			Name:      "subscribers",
			Help:      "Current bus subscriptions.",
		}, func() float64 { return float64(b.SubscriberCount()) }),
	)
}

// RegisterGraph registers scrape-time gauges over stats. stats must be safe
// to call from the scrape goroutine.
func RegisterGraph(reg prometheus.Registerer, stats func() graph.Stats) error {
	return register(reg,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "graph",
			Name:      "nodes",
			Help:      "Nodes in the graph.",
		}, func() float64 { return float64(stats().NodeCount) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "graph",
			Name:      "edges",
			Help:      "Edges in the graph.",
		}, func() float64 { return float64(stats().EdgeCount) }),
	)
}

// RegisterClients registers a scrape-time gauge of connected live-view
// clients.
func RegisterClients(reg prometheus.Registerer, count func() int) error {
	return register(reg,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "websocket",
			Name:      "clients",
			Help:      "Connected websocket clients.",
		}, func() float64 { return float64(count()) }),
	)
}

func register(reg prometheus.Registerer, cs ...prometheus.Collector) error {
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return fmt.Errorf("metrics: register: %w", err)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Pipeline
// ---------------------------------------------------------------------------

// Pipeline records per-message and per-question figures.
type Pipeline struct {
	extraction *prometheus.HistogramVec
	planning   *prometheus.HistogramVec
	mutations  *prometheus.CounterVec
}

// NewPipeline creates and registers the pipeline metrics.
func NewPipeline(reg prometheus.Registerer) (*Pipeline, error) {
	p := &Pipeline{
		extraction: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "extraction",
			Name:      "duration_seconds",
			Help:      "Extraction latency, by outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"outcome"}),
		planning: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "planner",
			Name:      "duration_seconds",
			Help:      "Query planning latency, by outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"outcome"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "ingest",
			Name:      "total",
			Help:      "Ingestion results, by kind.",
		}, []string{"kind"}),
	}
	if err := register(reg, p.extraction, p.planning, p.mutations); err != nil {
		return nil, err
	}
	return p, nil
}

// ObserveExtraction records one extraction. empty marks a call that yielded
// nothing.
func (p *Pipeline) ObserveExtraction(d time.Duration, empty bool) {
	if p == nil {
		return
	}
	outcome := "extracted"
	if empty {
		outcome = "empty"
	}
	p.extraction.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObserveIngest adds one ingestion's counts.
func (p *Pipeline) ObserveIngest(nodesAdded, edgesAdded, edgesSkipped int) {
	if p == nil {
		return
	}
	p.mutations.WithLabelValues("nodes_added").Add(float64(nodesAdded))
	p.mutations.WithLabelValues("edges_added").Add(float64(edgesAdded))
	p.mutations.WithLabelValues("edges_skipped").Add(float64(edgesSkipped))
}

// ObservePlan records one planning call. fallback marks a plan that fell
// back to a broad search.
func (p *Pipeline) ObservePlan(d time.Duration, fallback bool) {
	if p == nil {
		return
	}
	outcome := "planned"
	if fallback {
		outcome = "fallback"
	}
	p.planning.WithLabelValues(outcome).Observe(d.Seconds())
}
