package logging

import (
	"context"
	"regexp"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type requestCtxKey struct{}
type projectCtxKey struct{}
type passCtxKey struct{}
type loggerCtxKey struct{}

const maxIDLen = 128

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9._:-]+$`)

func validID(id string) bool {
	return id != "" && len(id) <= maxIDLen && utf8.ValidString(id) && idPattern.MatchString(id)
}

// ContextFields extracts correlation data from ctx: the active span, the
// request id, the project being operated on and the sync pass.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request.id", id))
	}
	if id := ProjectIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("project.id", id))
	}
	if id := PassIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("sync.pass_id", id))
	}
	return fields
}

// WithRequestID adds a request id to ctx. Ids that are empty, too long or
// contain characters outside [a-zA-Z0-9._:-] are dropped.
func WithRequestID(ctx context.Context, id string) context.Context {
	if !validID(id) {
		return ctx
	}
	return context.WithValue(ctx, requestCtxKey{}, id)
}

// RequestIDFromContext returns the request id, or "".
func RequestIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(requestCtxKey{}).(string)
	return s
}

// WithProjectID adds a project id to ctx. Project ids are caller-assigned,
// so they are only length- and encoding-checked.
func WithProjectID(ctx context.Context, id string) context.Context {
	if id == "" || len(id) > maxIDLen || !utf8.ValidString(id) {
		return ctx
	}
	return context.WithValue(ctx, projectCtxKey{}, id)
}

// ProjectIDFromContext returns the project id, or "".
func ProjectIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(projectCtxKey{}).(string)
	return s
}

// WithPassID adds a sync pass id to ctx.
func WithPassID(ctx context.Context, id string) context.Context {
	if !validID(id) {
		return ctx
	}
	return context.WithValue(ctx, passCtxKey{}, id)
}

// PassIDFromContext returns the sync pass id, or "".
func PassIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(passCtxKey{}).(string)
	return s
}

// WithLogger stores l in ctx.
func WithLogger(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, l)
}

// FromContext returns the logger stored in ctx, or a no-op logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok && l != nil {
		return l
	}
	return Nop()
}
