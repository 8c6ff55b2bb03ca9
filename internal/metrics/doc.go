// Package metrics provides Prometheus metrics for observability.
//
// This package exposes metrics for the durability core's components:
//   - WAL engine append/fsync latency, window size gauge and recovery counters
//   - Upload pipeline object size, upload latency, commit and orphan counters
//   - Storage orchestrator backoff queue depth and force-upload counter
//   - Oxia metadata store request latency and error counters
//   - Object store put/get/delete latency and error counters
//
// Metrics are exposed via a dedicated HTTP server on /metrics in Prometheus format.
//
// Usage:
//
//	// Create and register metrics
//	walMetrics := metrics.NewWALEngineMetrics()
//	uploadMetrics := metrics.NewUploadMetrics()
//	orchMetrics := metrics.NewOrchestratorMetrics()
//
//	// Wire into components
//	wal := walengine.New(walengine.Config{Metrics: walMetrics, ...}, logger)
//	pipeline := upload.New(upload.Config{Metrics: uploadMetrics, ...}, ...)
//	orch := orchestrator.New(orchestrator.Config{Metrics: orchMetrics, ...}, ...)
//
//	// Start metrics server
//	metricsServer := metrics.NewServer(":9090")
//	metricsServer.Start()
package metrics

// Status label values shared across metrics in this package.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)
