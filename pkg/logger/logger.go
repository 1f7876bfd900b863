// Package logger builds the service's JSON slog logger and carries
// request-scoped fields (correlation id, user id) through context.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

type contextKey int

const (
	scopeKey contextKey = iota
	loggerKey
)

// scope holds the request fields added to every log line. It is copied on
// write so contexts never share a mutable value.
type scope struct {
	correlationID string
	userID        string
}

func scopeFrom(ctx context.Context) scope {
	s, _ := ctx.Value(scopeKey).(scope)
	return s
}

// ParseLevel maps a LOG_LEVEL value to a slog level. Matching is case
// insensitive and accepts offsets such as "debug-2". Anything unparseable
// is info.
func ParseLevel(level string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// New creates a JSON logger on stdout tagged with serviceName.
func New(serviceName, level string) *slog.Logger {
	return NewWithWriter(serviceName, level, os.Stdout)
}

// NewWithWriter is New writing to w. Source locations are included at debug
// level and below.
func NewWithWriter(serviceName, level string, w io.Writer) *slog.Logger {
	lvl := ParseLevel(level)
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl <= slog.LevelDebug,
	})
	return slog.New(handler).With(slog.String("service", serviceName))
}

// WithCorrelationID returns a context carrying the correlation id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	s := scopeFrom(ctx)
	s.correlationID = id
	return context.WithValue(ctx, scopeKey, s)
}

// CorrelationIDFromContext returns the correlation id, or "".
func CorrelationIDFromContext(ctx context.Context) string {
	return scopeFrom(ctx).correlationID
}

// WithUserID returns a context carrying the acting user's id.
func WithUserID(ctx context.Context, id string) context.Context {
	s := scopeFrom(ctx)
	s.userID = id
	return context.WithValue(ctx, scopeKey, s)
}

// UserIDFromContext returns the user id, or "".
func UserIDFromContext(ctx context.Context) string {
	return scopeFrom(ctx).userID
}

// NewContext stores a request-scoped logger in ctx.
func NewContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext returns the logger stored by NewContext, or slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// WithContext returns l with the context's correlation id, user id and, when
// the context carries a span, its trace and span ids.
func WithContext(ctx context.Context, l *slog.Logger) *slog.Logger {
	s := scopeFrom(ctx)
	attrs := make([]any, 0, 4)
	if s.correlationID != "" {
		attrs = append(attrs, slog.String("correlation_id", s.correlationID))
	}
	if s.userID != "" {
		attrs = append(attrs, slog.String("user_id", s.userID))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		attrs = append(attrs,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if len(attrs) == 0 {
		return l
	}
	return l.With(attrs...)
}
