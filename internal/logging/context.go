package logging

import (
	"context"
	"regexp"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const maxIDLen = 128

var requestIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)

type userCtxKey struct{}
type requestCtxKey struct{}
type loggerCtxKey struct{}

// ContextFields extracts correlation data from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 5)

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request.id", id))
	}
	if id := UserIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("user.id", id))
	}
	return fields
}

// ValidRequestID reports whether id is safe to log and echo back: at most
// 128 characters from [a-zA-Z0-9_.:-].
func ValidRequestID(id string) bool {
	return id != "" && len(id) <= maxIDLen && requestIDPattern.MatchString(id)
}

// WithRequestID adds a request ID to ctx. Invalid IDs are ignored.
func WithRequestID(ctx context.Context, id string) context.Context {
	if !ValidRequestID(id) {
		return ctx
	}
	return context.WithValue(ctx, requestCtxKey{}, id)
}

// RequestIDFromContext returns the request ID, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestCtxKey{}).(string)
	return id
}

// WithUserID adds the caller's user ID to ctx. User IDs are opaque; they
// are truncated to 128 bytes and dropped when not valid UTF-8.
func WithUserID(ctx context.Context, id string) context.Context {
	if id == "" || !utf8.ValidString(id) {
		return ctx
	}
	if len(id) > maxIDLen {
		id = truncateUTF8(id, maxIDLen)
	}
	return context.WithValue(ctx, userCtxKey{}, id)
}

// UserIDFromContext returns the user ID, or "".
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userCtxKey{}).(string)
	return id
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves the logger stored by WithLogger, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return Nop()
}

func truncateUTF8(s string, n int) string {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
