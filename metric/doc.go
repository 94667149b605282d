// Package metric provides a centralized Prometheus registry and HTTP
// server for the control plane, receive pipeline, transport channels
// and event loop.
//
// Core metrics (state transitions, pipeline throughput, decrypt
// failures, event loop load) live on Metrics and are registered
// automatically. Any other package can register its own collector
// through the MetricsRegistrar interface without reaching into the
// underlying Prometheus registry directly.
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9090, "/metrics", registry)
//	go server.Start()
//	defer server.Stop()
//
//	core := registry.CoreMetrics()
//	core.RecordStateTransition("readergroup", "disabled", "operational")
package metric
