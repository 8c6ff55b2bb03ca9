package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// UploadMetrics holds metrics for the Upload Pipeline: the staging-then-
// commit flow that turns sealed log cache blocks into upload objects.
type UploadMetrics struct {
	SizeHistogram         prometheus.Histogram
	UploadLatencyHistogram prometheus.Histogram
	ObjectsCommittedTotal prometheus.Counter
	OrphansDetectedTotal  prometheus.Counter
}

var DefaultUploadSizeBuckets = []float64{
	1024, 4096, 16384, 65536, 262144, 524288,
	1048576, 2097152, 4194304, 8388608, 16777216, 33554432, 67108864, 134217728,
}

var DefaultUploadLatencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0,
}

func NewUploadMetrics() *UploadMetrics {
	return &UploadMetrics{
		SizeHistogram: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "dray",
				Subsystem: "upload",
				Name:      "object_size_bytes",
				Help:      "Upload object size in bytes.",
				Buckets:   DefaultUploadSizeBuckets,
			},
		),
		UploadLatencyHistogram: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "dray",
				Subsystem: "upload",
				Name:      "upload_latency_seconds",
				Help:      "Time from staging marker write to object store Put completion.",
				Buckets:   DefaultUploadLatencyBuckets,
			},
		),
		ObjectsCommittedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "dray",
				Subsystem: "upload",
				Name:      "objects_committed_total",
				Help:      "Total number of upload objects whose commit transaction succeeded.",
			},
		),
		OrphansDetectedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "dray",
				Subsystem: "upload",
				Name:      "orphans_detected_total",
				Help:      "Total number of staging markers found with no matching commit.",
			},
		),
	}
}

func NewUploadMetricsWithRegistry(reg prometheus.Registerer) *UploadMetrics {
	sizeHist := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "dray",
			Subsystem: "upload",
			Name:      "object_size_bytes",
			Help:      "Upload object size in bytes.",
			Buckets:   DefaultUploadSizeBuckets,
		},
	)
	latencyHist := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "dray",
			Subsystem: "upload",
			Name:      "upload_latency_seconds",
			Help:      "Time from staging marker write to object store Put completion.",
			Buckets:   DefaultUploadLatencyBuckets,
		},
	)
	committedTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dray",
			Subsystem: "upload",
			Name:      "objects_committed_total",
			Help:      "Total number of upload objects whose commit transaction succeeded.",
		},
	)
	orphansTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dray",
			Subsystem: "upload",
			Name:      "orphans_detected_total",
			Help:      "Total number of staging markers found with no matching commit.",
		},
	)

	reg.MustRegister(sizeHist)
	reg.MustRegister(latencyHist)
	reg.MustRegister(committedTotal)
	reg.MustRegister(orphansTotal)

	return &UploadMetrics{
		SizeHistogram:          sizeHist,
		UploadLatencyHistogram: latencyHist,
		ObjectsCommittedTotal:  committedTotal,
		OrphansDetectedTotal:   orphansTotal,
	}
}

// RecordUpload records a completed object-store write: size and the time
// from staging marker write to Put completion.
func (m *UploadMetrics) RecordUpload(sizeBytes int64, durationSeconds float64) {
	m.SizeHistogram.Observe(float64(sizeBytes))
	m.UploadLatencyHistogram.Observe(durationSeconds)
}

// RecordCommit marks an object's metadata commit transaction as succeeded.
func (m *UploadMetrics) RecordCommit() {
	m.ObjectsCommittedTotal.Inc()
}

// RecordOrphan marks a staging marker as found with no matching commit.
func (m *UploadMetrics) RecordOrphan() {
	m.OrphansDetectedTotal.Inc()
}
