package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "prudo_ingest"

// Collector is a prometheus.Collector that collects metrics about
// image ingestion. A nil *Collector records nothing.
type Collector struct {
	requests          *prometheus.CounterVec
	inferenceDuration prometheus.Histogram
}

// NewMetricsCollector returns a new Collector.
func NewMetricsCollector() *Collector {
	return &Collector{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "requests_total",
				Help:      "Ingested images by outcome.",
			}, []string{"outcome"},
		),
		inferenceDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "inference_seconds",
				Help:      "Time spent waiting for the inference service.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.requests.Describe(ch)
	c.inferenceDuration.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.requests.Collect(ch)
	c.inferenceDuration.Collect(ch)
}

func (c *Collector) ingested(outcome string) {
	if c != nil {
		c.requests.WithLabelValues(outcome).Inc()
	}
}

func (c *Collector) observeInference(d time.Duration) {
	if c != nil {
		c.inferenceDuration.Observe(d.Seconds())
	}
}
