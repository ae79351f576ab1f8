// Package telemetry provides OpenTelemetry integration for the dispatch
// server: exporter setup, trace-aware logging, dispatch metrics, and the
// best-effort trace event emitter.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys for dispatch spans and metrics. LLM keys follow the
// standard gen_ai conventions; the rest are project-scoped.
const (
	// Dispatch attributes
	AttrSessionID      = "llmserver.session.id"
	AttrDispatchStatus = "llmserver.dispatch.status"
	AttrDispatchPhase  = "llmserver.dispatch.phase"

	// Tool attributes
	AttrToolName       = "llmserver.tool.name"
	AttrToolCallID     = "llmserver.tool.call_id"
	AttrToolArgs       = "llmserver.tool.arguments"
	AttrToolDurationMs = "llmserver.tool.duration_ms"
	AttrToolSuccess    = "llmserver.tool.success"
	AttrToolDegraded   = "llmserver.tool.degraded"

	// Catalog attributes
	AttrCatalogSize = "llmserver.catalog.size"

	// LLM attributes (standard gen_ai conventions)
	AttrLLMModel        = "gen_ai.request.model"
	AttrLLMProvider     = "gen_ai.system"
	AttrLLMTokensInput  = "gen_ai.usage.input_tokens"
	AttrLLMTokensOutput = "gen_ai.usage.output_tokens"
	AttrLLMTokensTotal  = "gen_ai.usage.total_tokens"
	AttrLLMDurationMs   = "gen_ai.duration_ms"

	// Error attributes
	AttrErrorCode        = "llmserver.error.code"
	AttrErrorRecoverable = "llmserver.error.recoverable"

	// Event attributes
	AttrEventType = "llmserver.event.type"
)

// DispatchAttributes returns the common attributes of a dispatch span.
func DispatchAttributes(sessionID, status string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrSessionID, sessionID),
	}
	if status != "" {
		attrs = append(attrs, attribute.String(AttrDispatchStatus, status))
	}
	return attrs
}

// ToolCallAttributes returns attributes for a tool invocation span.
func ToolCallAttributes(name, callID string, durationMs float64, success, degraded bool) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrToolName, name),
		attribute.Float64(AttrToolDurationMs, durationMs),
		attribute.Bool(AttrToolSuccess, success),
	}
	if callID != "" {
		attrs = append(attrs, attribute.String(AttrToolCallID, callID))
	}
	if degraded {
		attrs = append(attrs, attribute.Bool(AttrToolDegraded, true))
	}
	return attrs
}

// ToolArgsAttribute returns the tool argument attribute, truncated so
// verbose proposals cannot blow up span size.
func ToolArgsAttribute(args string, maxLen int) []attribute.KeyValue {
	if args == "" {
		return nil
	}
	if maxLen <= 0 {
		maxLen = 500
	}
	if len(args) > maxLen {
		args = args[:maxLen] + "..."
	}
	return []attribute.KeyValue{attribute.String(AttrToolArgs, args)}
}

// LLMAttributes returns attributes for a model call span.
func LLMAttributes(model, provider, phase string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrLLMModel, model),
	}
	if provider != "" {
		attrs = append(attrs, attribute.String(AttrLLMProvider, provider))
	}
	if phase != "" {
		attrs = append(attrs, attribute.String(AttrDispatchPhase, phase))
	}
	return attrs
}

// LLMUsageAttributes returns token usage attributes for a completed call.
func LLMUsageAttributes(inputTokens, outputTokens int, durationMs float64) []attribute.KeyValue {
	attrs := []attribute.KeyValue{}
	if inputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensInput, inputTokens))
	}
	if outputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensOutput, outputTokens))
	}
	if inputTokens > 0 || outputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensTotal, inputTokens+outputTokens))
	}
	if durationMs > 0 {
		attrs = append(attrs, attribute.Float64(AttrLLMDurationMs, durationMs))
	}
	return attrs
}
