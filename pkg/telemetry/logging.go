package telemetry

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

var logLevels = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// ConfigureSlog installs the global slog logger. Records logged with a
// context that carries an active span get trace_id and span_id attributes,
// so log lines can be joined with dispatch traces.
func ConfigureSlog(output io.Writer, level, format string) *slog.Logger {
	lvl, ok := logLevels[strings.ToLower(strings.TrimSpace(level))]
	if !ok {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var inner slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		inner = slog.NewJSONHandler(output, opts)
	} else {
		inner = slog.NewTextHandler(output, opts)
	}

	logger := slog.New(spanCorrelator{inner: inner})
	slog.SetDefault(logger)
	return logger
}

// spanCorrelator decorates records with the ids of the span active on the
// logging context. Records logged without a span pass through untouched.
type spanCorrelator struct {
	inner slog.Handler
}

func (c spanCorrelator) Enabled(ctx context.Context, level slog.Level) bool {
	return c.inner.Enabled(ctx, level)
}

func (c spanCorrelator) Handle(ctx context.Context, record slog.Record) error {
	if ctx != nil {
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			record.AddAttrs(
				slog.String("trace_id", sc.TraceID().String()),
				slog.String("span_id", sc.SpanID().String()),
			)
		}
	}
	return c.inner.Handle(ctx, record)
}

func (c spanCorrelator) WithAttrs(attrs []slog.Attr) slog.Handler {
	return spanCorrelator{inner: c.inner.WithAttrs(attrs)}
}

func (c spanCorrelator) WithGroup(name string) slog.Handler {
	return spanCorrelator{inner: c.inner.WithGroup(name)}
}
