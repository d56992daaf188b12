package subscriber

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "prudo_subscriber"

// Collector is a prometheus.Collector that collects metrics about
// the subscriber registry. A nil *Collector records nothing.
type Collector struct {
	active       prometheus.Gauge
	messages     *prometheus.CounterVec
	replacements prometheus.Counter
}

// NewMetricsCollector returns a new Collector.
func NewMetricsCollector() *Collector {
	return &Collector{
		active: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "active",
				Help:      "The number of registered live subscribers.",
			},
		),
		messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "messages_total",
				Help:      "Published messages by outcome.",
			}, []string{"outcome"},
		),
		replacements: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "superseded_total",
				Help:      "Subscriptions replaced by a newer registration for the same user.",
			},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.active.Describe(ch)
	c.messages.Describe(ch)
	c.replacements.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.active.Collect(ch)
	c.messages.Collect(ch)
	c.replacements.Collect(ch)
}

func (c *Collector) setActive(n int) {
	if c != nil {
		c.active.Set(float64(n))
	}
}

func (c *Collector) published() {
	if c != nil {
		c.messages.WithLabelValues("delivered").Inc()
	}
}

func (c *Collector) dropped() {
	if c != nil {
		c.messages.WithLabelValues("dropped").Inc()
	}
}

func (c *Collector) undelivered() {
	if c != nil {
		c.messages.WithLabelValues("no_subscriber").Inc()
	}
}

func (c *Collector) superseded() {
	if c != nil {
		c.replacements.Inc()
	}
}
