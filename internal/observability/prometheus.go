package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "simplepersist"

// PrometheusRecorder publishes per-store operation latency and outcome counts.
type PrometheusRecorder struct {
	durations *prometheus.HistogramVec
	results   *prometheus.CounterVec
}

var _ MetricsRecorder = (*PrometheusRecorder)(nil)

// NewPrometheusRecorder constructs the recorder and registers its collectors
// with reg. A nil reg skips registration.
func NewPrometheusRecorder(reg prometheus.Registerer) (*PrometheusRecorder, error) {
	rec := &PrometheusRecorder{
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency of store operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"store", "operation"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Store operations by outcome.",
		}, []string{"store", "operation", "status"}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{rec.durations, rec.results} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return rec, nil
}

// Observe records a service operation outcome.
func (r *PrometheusRecorder) Observe(_ context.Context, store, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	r.durations.WithLabelValues(store, operation).Observe(duration.Seconds())
	r.results.WithLabelValues(store, operation, status).Inc()
}

// HubStats is the registry size reported by an update hub.
type HubStats struct {
	Scopes      int
	Subscribers int
}

// HubCollector exports hub registry sizes as gauges, read on every scrape.
type HubCollector struct {
	stats       func() HubStats
	scopes      *prometheus.Desc
	subscribers *prometheus.Desc
}

var _ prometheus.Collector = (*HubCollector)(nil)

// NewHubCollector returns a collector calling stats on each scrape.
func NewHubCollector(stats func() HubStats) *HubCollector {
	return &HubCollector{
		stats:       stats,
		scopes:      prometheus.NewDesc(namespace+"_hub_scopes", "Scopes with at least one live subscriber.", nil, nil),
		subscribers: prometheus.NewDesc(namespace+"_hub_subscribers", "Live update subscribers across all scopes.", nil, nil),
	}
}

func (c *HubCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.scopes
	ch <- c.subscribers
}

func (c *HubCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()
	ch <- prometheus.MustNewConstMetric(c.scopes, prometheus.GaugeValue, float64(s.Scopes))
	ch <- prometheus.MustNewConstMetric(c.subscribers, prometheus.GaugeValue, float64(s.Subscribers))
}
