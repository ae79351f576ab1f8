package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/FISA5th-AI-Final-Team4/LLMServer/pkg/core"
	"github.com/FISA5th-AI-Final-Team4/LLMServer/pkg/errors"
)

// DispatchMetrics tracks dispatch outcomes, tool invocations, and errors.
type DispatchMetrics struct {
	// dispatchCounter tracks completed dispatches by status
	dispatchCounter metric.Int64Counter

	// dispatchDuration tracks end-to-end dispatch latency
	dispatchDuration metric.Float64Histogram

	// toolCounter tracks tool invocations by tool name and outcome
	toolCounter metric.Int64Counter

	// errorCounter tracks errors by code and component
	errorCounter metric.Int64Counter

	// catalogSizeGauge tracks the current tool catalog size
	catalogSizeGauge metric.Int64Gauge
}

// NewDispatchMetrics creates the dispatch metrics instruments on the global
// meter provider.
func NewDispatchMetrics(ctx context.Context) (*DispatchMetrics, error) {
	meter := otel.Meter("llmserver/dispatch")

	dispatchCounter, err := meter.Int64Counter(
		"llmserver.dispatches.total",
		metric.WithDescription("Completed dispatches by status"),
	)
	if err != nil {
		return nil, err
	}

	dispatchDuration, err := meter.Float64Histogram(
		"llmserver.dispatch.duration_ms",
		metric.WithDescription("End-to-end dispatch latency in milliseconds"),
	)
	if err != nil {
		return nil, err
	}

	toolCounter, err := meter.Int64Counter(
		"llmserver.tool.calls.total",
		metric.WithDescription("Tool invocations by tool name and outcome"),
	)
	if err != nil {
		return nil, err
	}

	errorCounter, err := meter.Int64Counter(
		"llmserver.errors.total",
		metric.WithDescription("Errors by code and component"),
	)
	if err != nil {
		return nil, err
	}

	catalogSizeGauge, err := meter.Int64Gauge(
		"llmserver.catalog.size",
		metric.WithDescription("Number of tools in the current catalog snapshot"),
	)
	if err != nil {
		return nil, err
	}

	return &DispatchMetrics{
		dispatchCounter:  dispatchCounter,
		dispatchDuration: dispatchDuration,
		toolCounter:      toolCounter,
		errorCounter:     errorCounter,
		catalogSizeGauge: catalogSizeGauge,
	}, nil
}

// RecordDispatch records one completed dispatch.
func (m *DispatchMetrics) RecordDispatch(ctx context.Context, status string, durationMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String(AttrDispatchStatus, status))
	m.dispatchCounter.Add(ctx, 1, attrs)
	m.dispatchDuration.Record(ctx, durationMs, attrs)
}

// RecordToolCall records one tool invocation.
func (m *DispatchMetrics) RecordToolCall(ctx context.Context, toolName string, success bool) {
	if m == nil {
		return
	}
	m.toolCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrToolName, toolName),
		attribute.Bool(AttrToolSuccess, success),
	))
}

// RecordError increments the error counter for the given error and component.
func (m *DispatchMetrics) RecordError(ctx context.Context, err error, component string) {
	if m == nil || err == nil {
		return
	}

	if de := errors.AsDispatchError(err); de != nil {
		m.errorCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String(AttrErrorCode, string(de.Code)),
			attribute.String("component", component),
			attribute.String(AttrErrorRecoverable, de.RecoverableString()),
		))
		return
	}
	m.errorCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrErrorCode, "UNKNOWN"),
		attribute.String("component", component),
		attribute.String(AttrErrorRecoverable, "unknown"),
	))
}

// Record implements core.EventEmitter: metrics ride the same trace event
// stream as the sinks, so the agent needs no separate metrics wiring.
func (m *DispatchMetrics) Record(ctx context.Context, event core.Event) {
	if m == nil {
		return
	}
	switch event.Type {
	case core.EventDispatchCompleted:
		status, _ := event.Payload["status"].(string)
		m.RecordDispatch(ctx, status, asMillis(event.Payload["duration_ms"]))
		if code, ok := event.Payload["error_code"].(string); ok && code != "" {
			m.errorCounter.Add(ctx, 1, metric.WithAttributes(
				attribute.String(AttrErrorCode, code),
				attribute.String("component", "dispatch"),
			))
		}
	case core.EventToolCallCompleted:
		name, _ := event.Payload["tool_name"].(string)
		m.RecordToolCall(ctx, name, true)
	case core.EventToolCallFailed:
		name, _ := event.Payload["tool_name"].(string)
		m.RecordToolCall(ctx, name, false)
	}
}

func asMillis(v any) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case int:
		return float64(n)
	case float64:
		return n
	default:
		return 0
	}
}

// RecordCatalogSize records the size of the current catalog snapshot.
func (m *DispatchMetrics) RecordCatalogSize(ctx context.Context, size int64) {
	if m == nil {
		return
	}
	m.catalogSizeGauge.Record(ctx, size)
}
