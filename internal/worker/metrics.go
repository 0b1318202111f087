package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry             *prometheus.Registry
	jobsTotal            *prometheus.CounterVec
	jobDuration          *prometheus.HistogramVec
	activeJobs           prometheus.Gauge
	itemsTotal           *prometheus.CounterVec
	webhookFailures      *prometheus.CounterVec
	pixelsProcessedTotal prometheus.Counter
	bytesOutTotal        prometheus.Counter
	computeTimeMSTotal   prometheus.Counter
}

// newMetrics registers on registry, or on a fresh registry carrying the Go
// and process collectors when registry is nil.
func newMetrics(registry *prometheus.Registry) *metrics {
	if registry == nil {
		registry = NewRegistry()
	}

	m := &metrics{
		registry: registry,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "facewarp_worker_jobs_total",
			Help: "Total worker job attempts by operation and final status.",
		}, []string{"operation", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "facewarp_worker_job_duration_seconds",
			Help:    "Total processing duration for each worker job attempt.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "facewarp_worker_active_jobs",
			Help: "Current number of active processing jobs in the worker.",
		}),
		itemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "facewarp_worker_items_total",
			Help: "Job items processed by operation and item status.",
		}, []string{"operation", "status"}),
		webhookFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "facewarp_worker_webhook_failures_total",
			Help: "Webhook deliveries that failed after all attempts.",
		}, []string{"event"}),
		pixelsProcessedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "facewarp_usage_pixels_processed_total",
			Help: "Total decoded input pixels across finished jobs.",
		}),
		bytesOutTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "facewarp_usage_bytes_out_total",
			Help: "Total encoded output bytes across finished jobs.",
		}),
		computeTimeMSTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "facewarp_usage_compute_time_ms_total",
			Help: "Total compute time in milliseconds across finished jobs.",
		}),
	}

	registry.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.activeJobs,
		m.itemsTotal,
		m.webhookFailures,
		m.pixelsProcessedTotal,
		m.bytesOutTotal,
		m.computeTimeMSTotal,
	)
	return m
}

// NewRegistry returns a registry with the Go and process collectors, for
// sharing with other components of the same binary.
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
