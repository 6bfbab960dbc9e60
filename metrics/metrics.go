package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector counts classifications, skipped rows and device actions. A nil
// *Collector is valid and records nothing.
type Collector struct {
	classified *prometheus.CounterVec
	skipped    *prometheus.CounterVec
	actions    *prometheus.CounterVec
	gatherer   prometheus.Gatherer
}

// NewCollector registers the counters on reg. Pass a fresh
// prometheus.NewRegistry() in tests.
func NewCollector(reg *prometheus.Registry) *Collector {
	c := &Collector{
		classified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "homesense_readings_classified_total",
			Help: "Readings classified, by pipeline and band label.",
		}, []string{"pipeline", "label"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "homesense_readings_skipped_total",
			Help: "Readings skipped, by pipeline and reason kind.",
		}, []string{"pipeline", "reason"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "homesense_actions_total",
			Help: "Device actions attempted, by action and status.",
		}, []string{"action", "status"}),
		gatherer: reg,
	}
	reg.MustRegister(c.classified, c.skipped, c.actions)
	return c
}

// Classified records one classified reading
func (c *Collector) Classified(pipeline, label string) {
	if c == nil {
		return
	}
	c.classified.WithLabelValues(pipeline, label).Inc()
}

// Skipped records one skipped reading
func (c *Collector) Skipped(pipeline, reason string) {
	if c == nil {
		return
	}
	c.skipped.WithLabelValues(pipeline, reason).Inc()
}

// Action records one device action attempt
func (c *Collector) Action(action string, ok bool) {
	if c == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "failed"
	}
	c.actions.WithLabelValues(action, status).Inc()
}

// Handler serves the registry in the Prometheus text format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
