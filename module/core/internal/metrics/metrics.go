// Package metrics exposes Prometheus collectors for the tracking core.
// Every recorder method is safe on a nil *Collector so components can run
// without metrics in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	Registry *prometheus.Registry

	IngestTotal        *prometheus.CounterVec // result: accepted|invalid_coordinates|non_monotonic_timestamp|implausible_movement|error
	RoutingCalls       *prometheus.CounterVec // outcome: routed|estimated
	CacheLookups       *prometheus.CounterVec // result: hit|miss
	CacheBackend       prometheus.Gauge       // 1 durable, 0 in-memory
	ScanDuration       prometheus.Histogram
	BroadcastFlushes   prometheus.Counter
	BroadcastMessages  *prometheus.CounterVec // type
	BroadcastDropped   prometheus.Counter
	DeltaSuppressed    prometheus.Counter
	ActiveConnections  *prometheus.GaugeVec // role
	StopArrivals       prometheus.Counter
	EventPublishErrors prometheus.Counter
}

func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		Registry: reg,
		IngestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nxtbus_ingest_total",
			Help: "Position updates by validation result.",
		}, []string{"result"}),
		RoutingCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nxtbus_eta_candidates_total",
			Help: "Candidate ETA evaluations by source.",
		}, []string{"source"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nxtbus_eta_cache_lookups_total",
			Help: "ETA cache lookups by result.",
		}, []string{"result"}),
		CacheBackend: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nxtbus_eta_cache_durable",
			Help: "1 if the durable ETA cache is serving, 0 if the in-memory fallback is.",
		}),
		ScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "nxtbus_eta_scan_duration_seconds",
			Help:    "Time to answer a scan ETA query.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		BroadcastFlushes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nxtbus_broadcast_flushes_total",
			Help: "Batched envelopes delivered to topics.",
		}),
		BroadcastMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nxtbus_broadcast_messages_total",
			Help: "Messages queued for broadcast by type.",
		}, []string{"type"}),
		BroadcastDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nxtbus_broadcast_dropped_total",
			Help: "Envelopes dropped because a subscriber buffer was full.",
		}),
		DeltaSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nxtbus_delta_suppressed_total",
			Help: "Location updates suppressed by the delta encoder.",
		}),
		ActiveConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nxtbus_ws_connections",
			Help: "Open real-time connections by role.",
		}, []string{"role"}),
		StopArrivals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nxtbus_stop_arrivals_total",
			Help: "Detected stop arrivals.",
		}),
		EventPublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nxtbus_event_publish_errors_total",
			Help: "Failed publishes to the external event channel.",
		}),
	}

	reg.MustRegister(
		c.IngestTotal, c.RoutingCalls, c.CacheLookups, c.CacheBackend, c.ScanDuration,
		c.BroadcastFlushes, c.BroadcastMessages, c.BroadcastDropped, c.DeltaSuppressed,
		c.ActiveConnections, c.StopArrivals, c.EventPublishErrors,
	)
	return c
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.Registry, promhttp.HandlerOpts{})
}

func (c *Collector) Ingest(result string) {
	if c == nil {
		return
	}
	c.IngestTotal.WithLabelValues(result).Inc()
}

func (c *Collector) Candidate(source string) {
	if c == nil {
		return
	}
	c.RoutingCalls.WithLabelValues(source).Inc()
}

func (c *Collector) CacheLookup(hit bool) {
	if c == nil {
		return
	}
	if hit {
		c.CacheLookups.WithLabelValues("hit").Inc()
		return
	}
	c.CacheLookups.WithLabelValues("miss").Inc()
}

func (c *Collector) CacheDurable(durable bool) {
	if c == nil {
		return
	}
	if durable {
		c.CacheBackend.Set(1)
		return
	}
	c.CacheBackend.Set(0)
}

func (c *Collector) ObserveScan(seconds float64) {
	if c == nil {
		return
	}
	c.ScanDuration.Observe(seconds)
}

func (c *Collector) Flushed() {
	if c == nil {
		return
	}
	c.BroadcastFlushes.Inc()
}

func (c *Collector) Queued(msgType string) {
	if c == nil {
		return
	}
	c.BroadcastMessages.WithLabelValues(msgType).Inc()
}

func (c *Collector) Dropped() {
	if c == nil {
		return
	}
	c.BroadcastDropped.Inc()
}

func (c *Collector) Suppressed() {
	if c == nil {
		return
	}
	c.DeltaSuppressed.Inc()
}

func (c *Collector) ConnectionOpened(role string) {
	if c == nil {
		return
	}
	c.ActiveConnections.WithLabelValues(role).Inc()
}

func (c *Collector) ConnectionClosed(role string) {
	if c == nil {
		return
	}
	c.ActiveConnections.WithLabelValues(role).Dec()
}

func (c *Collector) Arrival() {
	if c == nil {
		return
	}
	c.StopArrivals.Inc()
}

func (c *Collector) PublishFailed() {
	if c == nil {
		return
	}
	c.EventPublishErrors.Inc()
}
