package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// WALEngineMetrics holds metrics for the block-device write-ahead log
// engine (internal/walengine): per-append latency, the sliding window's
// current size, and recovery outcomes.
type WALEngineMetrics struct {
	AppendLatencyHistogram prometheus.Histogram
	FsyncLatencyHistogram  prometheus.Histogram
	WindowSizeGauge        prometheus.Gauge
	RecoverySkippedTotal   prometheus.Counter
	DataLossTotal          prometheus.Counter
}

var DefaultWALEngineLatencyBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0,
}

func NewWALEngineMetrics() *WALEngineMetrics {
	return &WALEngineMetrics{
		AppendLatencyHistogram: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "dray",
				Subsystem: "walengine",
				Name:      "append_latency_seconds",
				Help:      "Latency of a single Append call, from reserve through write.",
				Buckets:   DefaultWALEngineLatencyBuckets,
			},
		),
		FsyncLatencyHistogram: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "dray",
				Subsystem: "walengine",
				Name:      "fsync_latency_seconds",
				Help:      "Latency of the periodic header write (the header flush does not fsync).",
				Buckets:   DefaultWALEngineLatencyBuckets,
			},
		),
		WindowSizeGauge: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "dray",
				Subsystem: "walengine",
				Name:      "window_size_bytes",
				Help:      "Current sliding window max length in bytes.",
			},
		),
		RecoverySkippedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "dray",
				Subsystem: "walengine",
				Name:      "recovery_records_skipped_total",
				Help:      "Total number of corrupt or stale frames skipped during recovery scans.",
			},
		),
		DataLossTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "dray",
				Subsystem: "walengine",
				Name:      "data_loss_total",
				Help:      "Total number of Start calls that reported ErrDataLoss.",
			},
		),
	}
}

func NewWALEngineMetricsWithRegistry(reg prometheus.Registerer) *WALEngineMetrics {
	appendHist := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "dray",
			Subsystem: "walengine",
			Name:      "append_latency_seconds",
			Help:      "Latency of a single Append call, from reserve through write.",
			Buckets:   DefaultWALEngineLatencyBuckets,
		},
	)
	fsyncHist := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "dray",
			Subsystem: "walengine",
			Name:      "fsync_latency_seconds",
			Help:      "Latency of the periodic header write (the header flush does not fsync).",
			Buckets:   DefaultWALEngineLatencyBuckets,
		},
	)
	windowGauge := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "dray",
			Subsystem: "walengine",
			Name:      "window_size_bytes",
			Help:      "Current sliding window max length in bytes.",
		},
	)
	skippedTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dray",
			Subsystem: "walengine",
			Name:      "recovery_records_skipped_total",
			Help:      "Total number of corrupt or stale frames skipped during recovery scans.",
		},
	)
	dataLossTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dray",
			Subsystem: "walengine",
			Name:      "data_loss_total",
			Help:      "Total number of Start calls that reported ErrDataLoss.",
		},
	)

	reg.MustRegister(appendHist)
	reg.MustRegister(fsyncHist)
	reg.MustRegister(windowGauge)
	reg.MustRegister(skippedTotal)
	reg.MustRegister(dataLossTotal)

	return &WALEngineMetrics{
		AppendLatencyHistogram: appendHist,
		FsyncLatencyHistogram:  fsyncHist,
		WindowSizeGauge:        windowGauge,
		RecoverySkippedTotal:   skippedTotal,
		DataLossTotal:          dataLossTotal,
	}
}

func (m *WALEngineMetrics) RecordAppend(durationSeconds float64) {
	m.AppendLatencyHistogram.Observe(durationSeconds)
}

func (m *WALEngineMetrics) RecordFsync(durationSeconds float64) {
	m.FsyncLatencyHistogram.Observe(durationSeconds)
}

func (m *WALEngineMetrics) SetWindowSize(bytes int64) {
	m.WindowSizeGauge.Set(float64(bytes))
}

func (m *WALEngineMetrics) RecordRecoverySkipped(count int) {
	m.RecoverySkippedTotal.Add(float64(count))
}

func (m *WALEngineMetrics) RecordDataLoss() {
	m.DataLossTotal.Inc()
}
