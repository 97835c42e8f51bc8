package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the worker's prometheus instruments behind its own registry
// so tests can create isolated collectors.
type Collector struct {
	registry *prometheus.Registry

	ScansCompleted prometheus.Counter
	ScansFailed    prometheus.Counter
	JobsEnqueued   *prometheus.CounterVec
	QueuePending   prometheus.Gauge
}

// NewCollector creates a Collector with all worker instruments registered.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	c := &Collector{
		registry: registry,
		ScansCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "snapscope_scans_completed_total",
			Help: "Number of scan jobs that completed successfully.",
		}),
		ScansFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "snapscope_scans_failed_total",
			Help: "Number of scan jobs that failed.",
		}),
		JobsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snapscope_jobs_enqueued_total",
			Help: "Number of jobs enqueued, by source.",
		}, []string{"source"}),
		QueuePending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "snapscope_queue_pending",
			Help: "Number of pending jobs in the scan queue.",
		}),
	}
	registry.MustRegister(c.ScansCompleted, c.ScansFailed, c.JobsEnqueued, c.QueuePending)
	return c
}

// Handler returns the HTTP handler serving this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
