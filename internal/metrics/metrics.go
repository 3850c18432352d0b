package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rmacdonaldsmith/roomadapter-go/pkg/broadcast"
	"github.com/rmacdonaldsmith/roomadapter-go/pkg/membership"
)

const namespace = "roomadapter"

// Collector owns the adapter's Prometheus collectors and the registry they live in.
// It implements broadcast.Recorder.
type Collector struct {
	registry *prometheus.Registry

	broadcasts *prometheus.CounterVec
	deliveries *prometheus.CounterVec
	duration   prometheus.Histogram
	sockets    prometheus.Gauge
	requests   *prometheus.CounterVec
}

// NewCollector registers every collector on a fresh registry.
// stats, when non-nil, is sampled at scrape time for room and pattern gauges.
func NewCollector(stats func() membership.Stats) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Broadcast calls, by whether they reached anyone",
		}, []string{"reach"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Per-socket delivery outcomes",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "broadcast_duration_seconds",
			Help:      "Time from resolution to last delivery",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		sockets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_sockets",
			Help:      "Live transport handles",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"route", "code"}),
	}

	c.registry.MustRegister(
		c.broadcasts,
		c.deliveries,
		c.duration,
		c.sockets,
		c.requests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if stats != nil {
		c.registry.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "rooms",
				Help:      "Rooms with at least one member",
			}, func() float64 { return float64(stats().Rooms) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "wildcard_patterns",
				Help:      "Registered wildcard pattern rooms",
			}, func() float64 { return float64(stats().Patterns) }),
		)
	}

	return c
}

// ObserveBroadcast implements broadcast.Recorder
func (c *Collector) ObserveBroadcast(result broadcast.Result, elapsed time.Duration) {
	reach := "some"
	if result.Targeted == 0 {
		reach = "none"
	}
	c.broadcasts.WithLabelValues(reach).Inc()

	c.deliveries.WithLabelValues("delivered").Add(float64(result.Delivered))
	c.deliveries.WithLabelValues("suppressed").Add(float64(result.Suppressed))
	c.deliveries.WithLabelValues("failed").Add(float64(result.Failed))
	c.deliveries.WithLabelValues("missing").Add(float64(result.Missing))
	c.duration.Observe(elapsed.Seconds())
}

// SocketConnected increments the live socket gauge
func (c *Collector) SocketConnected() {
	c.sockets.Inc()
}

// SocketDisconnected decrements the live socket gauge
func (c *Collector) SocketDisconnected() {
	c.sockets.Dec()
}

// ObserveRequest counts one HTTP request
func (c *Collector) ObserveRequest(route string, code int) {
	c.requests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry exposes the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Verify that Collector implements the broadcast.Recorder interface at compile time
var _ broadcast.Recorder = (*Collector)(nil)
