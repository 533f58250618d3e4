package vectorstore

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer for OpenTelemetry instrumentation.
var tracer = otel.Tracer("knowme.vectorstore")

var (
	// OperationsTotal counts store operations.
	// Labels: backend (qdrant, chromem), operation, result (success, unavailable, invalid, error)
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "knowme",
			Subsystem: "vectorstore",
			Name:      "operations_total",
			Help:      "Total number of vector store operations",
		},
		[]string{"backend", "operation", "result"},
	)

	// OperationDuration tracks how long store operations take.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "knowme",
			Subsystem: "vectorstore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of vector store operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)
)

// startOp opens a span for one store operation. The returned func records
// the outcome on the span and in the Prometheus metrics, then ends the span.
func startOp(ctx context.Context, backend, spanName, operation string) (context.Context, trace.Span, func(error)) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, spanName)
	span.SetAttributes(attributeBackend(backend))
	return ctx, span, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "success")
		}
		observe(backend, operation, start, err)
		span.End()
	}
}

// observe records the outcome of one store operation.
func observe(backend, operation string, start time.Time, err error) {
	OperationDuration.WithLabelValues(backend, operation).Observe(time.Since(start).Seconds())
	OperationsTotal.WithLabelValues(backend, operation, resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrStoreUnavailable):
		return "unavailable"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid"
	default:
		return "error"
	}
}

func attributeBackend(backend string) attribute.KeyValue {
	return attribute.String("db.system", backend)
}
