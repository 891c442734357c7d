// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// ConfigureSlog installs the process logger: text or json output at the
// given level, with trace correlation ids attached to any record emitted
// inside an active span. The returned logger is also set as slog's default.
func ConfigureSlog(output io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: logLevel(level)}
	var inner slog.Handler = slog.NewTextHandler(output, opts)
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		inner = slog.NewJSONHandler(output, opts)
	}
	logger := slog.New(spanCorrelation{inner})
	slog.SetDefault(logger)
	return logger
}

func logLevel(level string) slog.Level {
	s := strings.TrimSpace(level)
	if strings.EqualFold(s, "warning") {
		return slog.LevelWarn
	}
	var l slog.Level
	if s == "" || l.UnmarshalText([]byte(s)) != nil {
		return slog.LevelInfo
	}
	return l
}

// spanCorrelation decorates records with the ids of the span active on the
// record's context so log lines can be joined with traces.
type spanCorrelation struct {
	next slog.Handler
}

func (h spanCorrelation) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h spanCorrelation) Handle(ctx context.Context, record slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		record.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return h.next.Handle(ctx, record)
}

func (h spanCorrelation) WithAttrs(attrs []slog.Attr) slog.Handler {
	return spanCorrelation{h.next.WithAttrs(attrs)}
}

func (h spanCorrelation) WithGroup(name string) slog.Handler {
	return spanCorrelation{h.next.WithGroup(name)}
}
