// Package telemetry configures OpenTelemetry tracing and metrics export.
//
// New installs OTLP (gRPC or HTTP) tracer and meter providers as the otel
// globals, so the spans opened by the vector store, embedder, reranker and
// pipelines, and the otel counters they record, reach the collector without
// those packages knowing about this one:
//
//	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version), logger)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Prometheus metrics registered with promauto are served separately on
// /metrics by the HTTP server.
package telemetry
