package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// OrchestratorMetrics holds metrics for the Storage Orchestrator (C8):
// the backoff queue depth it maintains under OverCapacity/CacheFull, and
// how often force_upload is triggered and by what cause.
type OrchestratorMetrics struct {
	BackoffQueueDepth      prometheus.Gauge
	BackoffEnqueuedTotal   *prometheus.CounterVec
	ForceUploadTotal       prometheus.Counter
	AppendLatencyHistogram prometheus.Histogram
}

var DefaultOrchestratorLatencyBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0,
}

func NewOrchestratorMetrics() *OrchestratorMetrics {
	return &OrchestratorMetrics{
		BackoffQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "dray",
			Subsystem: "orchestrator",
			Name:      "backoff_queue_depth",
			Help:      "Current number of append requests parked in the backoff queue.",
		}),
		BackoffEnqueuedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dray",
			Subsystem: "orchestrator",
			Name:      "backoff_enqueued_total",
			Help:      "Total append requests parked in the backoff queue, by cause.",
		}, []string{"cause"}),
		ForceUploadTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "dray",
			Subsystem: "orchestrator",
			Name:      "force_upload_total",
			Help:      "Total force_upload invocations.",
		}),
		AppendLatencyHistogram: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dray",
			Subsystem: "orchestrator",
			Name:      "append_latency_seconds",
			Help:      "Latency from append() call to cache delivery, including any time parked in the backoff queue.",
			Buckets:   DefaultOrchestratorLatencyBuckets,
		}),
	}
}

func NewOrchestratorMetricsWithRegistry(reg prometheus.Registerer) *OrchestratorMetrics {
	m := &OrchestratorMetrics{
		BackoffQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dray",
			Subsystem: "orchestrator",
			Name:      "backoff_queue_depth",
			Help:      "Current number of append requests parked in the backoff queue.",
		}),
		BackoffEnqueuedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dray",
			Subsystem: "orchestrator",
			Name:      "backoff_enqueued_total",
			Help:      "Total append requests parked in the backoff queue, by cause.",
		}, []string{"cause"}),
		ForceUploadTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dray",
			Subsystem: "orchestrator",
			Name:      "force_upload_total",
			Help:      "Total force_upload invocations.",
		}),
		AppendLatencyHistogram: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dray",
			Subsystem: "orchestrator",
			Name:      "append_latency_seconds",
			Help:      "Latency from append() call to cache delivery, including any time parked in the backoff queue.",
			Buckets:   DefaultOrchestratorLatencyBuckets,
		}),
	}
	reg.MustRegister(m.BackoffQueueDepth, m.BackoffEnqueuedTotal, m.ForceUploadTotal, m.AppendLatencyHistogram)
	return m
}

func (m *OrchestratorMetrics) RecordBackoff(cause string) {
	m.BackoffEnqueuedTotal.WithLabelValues(cause).Inc()
}

func (m *OrchestratorMetrics) SetBackoffQueueDepth(n int) {
	m.BackoffQueueDepth.Set(float64(n))
}

func (m *OrchestratorMetrics) RecordForceUpload() {
	m.ForceUploadTotal.Inc()
}

func (m *OrchestratorMetrics) RecordAppendLatency(seconds float64) {
	m.AppendLatencyHistogram.Observe(seconds)
}
