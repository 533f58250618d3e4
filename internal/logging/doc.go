// Package logging provides structured logging for knowme.
//
// Logger wraps Zap with context-aware methods that append correlation
// fields taken from the context:
//
//	ctx = logging.WithRequestID(ctx, "req-9f2c")
//	ctx = logging.WithUserID(ctx, "u-42")
//	logger.Info(ctx, "chat answered", zap.Int("sources", 3))
//
// produces
//
//	{"ts":"2026-03-02T10:15:30Z","level":"info","msg":"chat answered",
//	 "service":"knowme","request.id":"req-9f2c","user.id":"u-42","sources":3}
//
// plus trace_id and span_id when a span is active.
//
// Output goes to stdout, to OpenTelemetry through the otelzap bridge, or
// both. Values under sensitive keys (api_key, token, ...) and values that
// look like credentials are redacted by the encoder. Below error level,
// entries are sampled; errors always pass.
//
// Components that only need a plain *zap.Logger get Logger.Underlying().
// Tests use NewTestLogger to assert on what was logged.
package logging
