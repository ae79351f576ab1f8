package dispatch

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/FISA5th-AI-Final-Team4/LLMServer/pkg/core"
	"github.com/FISA5th-AI-Final-Team4/LLMServer/pkg/errors"
	"github.com/FISA5th-AI-Final-Team4/LLMServer/pkg/llm"
	"github.com/FISA5th-AI-Final-Team4/LLMServer/pkg/prompts"
	"github.com/FISA5th-AI-Final-Team4/LLMServer/pkg/registry"
	"github.com/FISA5th-AI-Final-Team4/LLMServer/pkg/telemetry"
)

// fallbackAnswer is returned whenever a dispatch cannot produce a real
// answer. The response stays well-formed so callers never see a bare error.
const fallbackAnswer = "Sorry, something went wrong while handling your request. Please try again in a moment."

const (
	defaultModelTimeout = 30 * time.Second
	defaultToolTimeout  = 15 * time.Second
)

// ToolRegistry is the slice of the registry the agent needs.
type ToolRegistry interface {
	Catalog() *registry.Catalog
	Invoke(ctx context.Context, name string, args map[string]interface{}) (any, error)
}

// Agent runs dispatches: decision call, at most one tool invocation,
// synthesis call. Safe for concurrent use.
type Agent struct {
	provider llm.Provider
	registry ToolRegistry
	prompts  prompts.Set
	emitter  core.EventEmitter
	logger   *slog.Logger
	tracer   oteltrace.Tracer

	model       string
	temperature float64

	decisionTimeout  time.Duration
	synthesisTimeout time.Duration
	toolTimeout      time.Duration
}

// Option configures an Agent.
type Option func(*Agent)

// WithModel sets the model name sent to the provider.
func WithModel(model string) Option {
	return func(a *Agent) { a.model = model }
}

// WithTemperature sets the sampling temperature for both model calls.
func WithTemperature(t float64) Option {
	return func(a *Agent) { a.temperature = t }
}

// WithPrompts overrides the default prompt set.
func WithPrompts(set prompts.Set) Option {
	return func(a *Agent) { a.prompts = set }
}

// WithEmitter sets the trace event emitter.
func WithEmitter(emitter core.EventEmitter) Option {
	return func(a *Agent) {
		if emitter != nil {
			a.emitter = emitter
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithModelTimeout bounds each of the two model calls independently.
func WithModelTimeout(d time.Duration) Option {
	return func(a *Agent) {
		a.decisionTimeout = d
		a.synthesisTimeout = d
	}
}

// WithToolTimeout bounds the tool invocation.
func WithToolTimeout(d time.Duration) Option {
	return func(a *Agent) { a.toolTimeout = d }
}

// New creates an Agent over a model provider and a tool registry.
func New(provider llm.Provider, reg ToolRegistry, opts ...Option) *Agent {
	a := &Agent{
		provider:         provider,
		registry:         reg,
		prompts:          prompts.Default(),
		emitter:          core.NoopEventEmitter{},
		logger:           slog.Default(),
		tracer:           otel.Tracer("llmserver/dispatch"),
		model:            "qwen2.5:7b-instruct",
		decisionTimeout:  defaultModelTimeout,
		synthesisTimeout: defaultModelTimeout,
		toolTimeout:      defaultToolTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Dispatch runs one full dispatch. The returned Response is always
// well-formed; the error, when non-nil, carries the failure cause for
// logging and HTTP status mapping.
func (a *Agent) Dispatch(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	if strings.TrimSpace(req.Query) == "" {
		err := errors.New(errors.CodeInvalidInput, "query is empty", nil)
		return a.failed(ctx, req, err, start), err
	}
	if req.SessionID == uuid.Nil {
		req.SessionID = uuid.New()
	}

	ctx, span := a.tracer.Start(ctx, "Agent.Dispatch")
	defer span.End()
	span.SetAttributes(telemetry.DispatchAttributes(req.SessionID.String(), "")...)

	catalog := a.registry.Catalog()
	if catalog.Len() == 0 {
		err := errors.New(errors.CodeRegistryUnavailable, "tool catalog is empty", nil).
			WithRecoverable(true)
		return a.failed(ctx, req, err, start), err
	}

	decisionPrompt := a.prompts.Decision
	if req.SystemPrompt != "" {
		decisionPrompt = req.SystemPrompt
	}
	decision, err := a.modelCall(ctx, req, "decision", []llm.Message{
		{Role: llm.RoleSystem, Content: decisionPrompt},
		{Role: llm.RoleUser, Content: req.Query},
	}, catalog.Definitions(), a.decisionTimeout)
	if err != nil {
		return a.failed(ctx, req, err, start), err
	}

	// Zero tool calls: the model answered directly, no second call needed.
	if len(decision.ToolCalls) == 0 {
		resp := &Response{
			Answer:    decision.Content,
			SessionID: req.SessionID,
			Status:    StatusOK,
		}
		span.SetAttributes(attribute.String(telemetry.AttrDispatchStatus, string(resp.Status)))
		a.emitCompleted(ctx, req, resp, "", start)
		return resp, nil
	}

	if len(decision.ToolCalls) > 1 {
		a.logger.WarnContext(ctx, "model proposed multiple tool calls, using the first",
			"session_id", req.SessionID.String(),
			"proposed", len(decision.ToolCalls))
	}
	call := decision.ToolCalls[0]

	descriptor, ok := catalog.Lookup(call.Function.Name)
	if !ok {
		err := errors.New(errors.CodeUnknownTool, "model selected a tool not in the catalog", nil).
			WithContext("tool_name", call.Function.Name).
			WithAttribute("tool.name", call.Function.Name)
		return a.failed(ctx, req, err, start), err
	}

	proposed, err := call.ArgumentsMap()
	if err != nil {
		err := errors.New(errors.CodeModelError, "model produced unparseable tool arguments", err).
			WithContext("tool_name", descriptor.Name)
		return a.failed(ctx, req, err, start), err
	}

	args, err := injectSession(descriptor, proposed, req.SessionID)
	if err != nil {
		return a.failed(ctx, req, err, start), err
	}

	payload, err := a.invokeTool(ctx, req, descriptor.Name, args)
	if err != nil {
		return a.failed(ctx, req, err, start), err
	}

	norm := normalizePayload(payload)
	outcome := &ToolOutcome{
		Name:      descriptor.Name,
		Arguments: args,
		Raw:       payload,
		Summary:   norm.Summary,
		Fields:    norm.Fields,
		Degraded:  norm.Degraded,
	}
	if norm.Degraded {
		a.logger.WarnContext(ctx, "tool payload normalization degraded",
			"session_id", req.SessionID.String(),
			"tool_name", descriptor.Name,
			"error_code", string(errors.CodeUnparseableResponse))
	}

	answer, status := a.synthesize(ctx, req, call, norm)
	if norm.Degraded {
		status = StatusDegraded
	}

	resp := &Response{
		Answer:    answer,
		SessionID: req.SessionID,
		Status:    status,
		Tool:      outcome,
	}
	span.SetAttributes(
		attribute.String(telemetry.AttrDispatchStatus, string(resp.Status)),
		attribute.String(telemetry.AttrToolName, descriptor.Name),
	)
	a.emitCompleted(ctx, req, resp, descriptor.Name, start)
	return resp, nil
}

// Direct answers a query with a single model call and no tools. Used by the
// plain invoke endpoint.
func (a *Agent) Direct(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	if strings.TrimSpace(req.Query) == "" {
		err := errors.New(errors.CodeInvalidInput, "query is empty", nil)
		return a.failed(ctx, req, err, start), err
	}
	if req.SessionID == uuid.Nil {
		req.SessionID = uuid.New()
	}

	ctx, span := a.tracer.Start(ctx, "Agent.Direct")
	defer span.End()
	span.SetAttributes(telemetry.DispatchAttributes(req.SessionID.String(), "")...)

	systemPrompt := a.prompts.Synthesis
	if req.SystemPrompt != "" {
		systemPrompt = req.SystemPrompt
	}
	resp, err := a.modelCall(ctx, req, "direct", []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: req.Query},
	}, nil, a.decisionTimeout)
	if err != nil {
		return a.failed(ctx, req, err, start), err
	}

	out := &Response{
		Answer:    resp.Content,
		SessionID: req.SessionID,
		Status:    StatusOK,
	}
	span.SetAttributes(attribute.String(telemetry.AttrDispatchStatus, string(out.Status)))
	a.emitCompleted(ctx, req, out, "", start)
	return out, nil
}

// synthesize runs the second model call. When it fails, the normalized
// summary stands in as the answer instead of failing the dispatch.
func (a *Agent) synthesize(ctx context.Context, req Request, call llm.ToolCall, norm normalized) (string, Status) {
	resp, err := a.modelCall(ctx, req, "synthesis", []llm.Message{
		{Role: llm.RoleSystem, Content: a.prompts.Synthesis},
		{Role: llm.RoleUser, Content: req.Query},
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{call}},
		{Role: llm.RoleTool, Content: norm.Summary, ToolCallID: call.ID},
	}, nil, a.synthesisTimeout)
	if err != nil {
		a.logger.WarnContext(ctx, "synthesis call failed, answering with tool summary",
			"session_id", req.SessionID.String(),
			"error", err)
		return norm.Summary, StatusDegraded
	}
	if strings.TrimSpace(resp.Content) == "" {
		return norm.Summary, StatusDegraded
	}
	return resp.Content, StatusOK
}

func (a *Agent) modelCall(ctx context.Context, req Request, phase string, messages []llm.Message, tools []llm.Tool, timeout time.Duration) (*llm.ChatResponse, error) {
	ctx, span := a.tracer.Start(ctx, "dispatch.model_call")
	defer span.End()
	span.SetAttributes(telemetry.LLMAttributes(a.model, "", phase)...)

	a.emit(ctx, core.EventModelCallStarted, req, map[string]any{
		"phase": phase,
		"model": a.model,
	})

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp, err := a.provider.Chat(callCtx, llm.ChatRequest{
		Model:       a.model,
		Messages:    messages,
		Tools:       tools,
		Temperature: a.temperature,
	})
	elapsed := time.Since(start)

	if err != nil {
		code := errors.CodeModelError
		if stderrors.Is(err, context.DeadlineExceeded) {
			code = errors.CodeTimeout
		}
		wrapped := errors.New(code, "model call failed", err).
			WithContext("phase", phase).
			WithAttribute("llm.phase", phase)
		span.RecordError(wrapped)
		span.SetAttributes(attribute.String(telemetry.AttrErrorCode, string(code)))
		a.emit(ctx, core.EventModelCallCompleted, req, map[string]any{
			"phase":       phase,
			"model":       a.model,
			"duration_ms": elapsed.Milliseconds(),
			"error":       wrapped.Error(),
		})
		return nil, wrapped
	}

	span.SetAttributes(telemetry.LLMUsageAttributes(
		resp.Usage.PromptTokens, resp.Usage.CompletionTokens, float64(elapsed.Milliseconds()))...)
	a.emit(ctx, core.EventModelCallCompleted, req, map[string]any{
		"phase":        phase,
		"model":        a.model,
		"duration_ms":  elapsed.Milliseconds(),
		"tool_calls":   len(resp.ToolCalls),
		"total_tokens": resp.Usage.TotalTokens,
	})
	return resp, nil
}

func (a *Agent) invokeTool(ctx context.Context, req Request, name string, args map[string]any) (any, error) {
	ctx, span := a.tracer.Start(ctx, "dispatch.tool_call")
	defer span.End()
	if encoded, err := json.Marshal(args); err == nil {
		span.SetAttributes(telemetry.ToolArgsAttribute(string(encoded), 0)...)
	}

	a.emit(ctx, core.EventToolCallStarted, req, map[string]any{
		"tool_name": name,
	})

	toolCtx, cancel := context.WithTimeout(ctx, a.toolTimeout)
	defer cancel()

	start := time.Now()
	payload, err := a.registry.Invoke(toolCtx, name, args)
	elapsed := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetAttributes(telemetry.ToolCallAttributes(name, "", float64(elapsed.Milliseconds()), false, false)...)
		a.emit(ctx, core.EventToolCallFailed, req, map[string]any{
			"tool_name":   name,
			"duration_ms": elapsed.Milliseconds(),
			"error_code":  string(errors.CodeOf(err)),
			"error":       err.Error(),
		})
		return nil, err
	}

	span.SetAttributes(telemetry.ToolCallAttributes(name, "", float64(elapsed.Milliseconds()), true, false)...)
	a.emit(ctx, core.EventToolCallCompleted, req, map[string]any{
		"tool_name":   name,
		"duration_ms": elapsed.Milliseconds(),
	})
	return payload, nil
}

func (a *Agent) failed(ctx context.Context, req Request, cause error, start time.Time) *Response {
	span := oteltrace.SpanFromContext(ctx)
	span.RecordError(cause)
	span.SetAttributes(
		attribute.String(telemetry.AttrDispatchStatus, string(StatusFailed)),
		attribute.String(telemetry.AttrErrorCode, string(errors.CodeOf(cause))),
	)

	a.logger.ErrorContext(ctx, "dispatch failed",
		"session_id", req.SessionID.String(),
		"error_code", string(errors.CodeOf(cause)),
		"error", cause)

	resp := &Response{
		Answer:    fallbackAnswer,
		SessionID: req.SessionID,
		Status:    StatusFailed,
	}
	a.emit(ctx, core.EventDispatchCompleted, req, map[string]any{
		"status":      string(StatusFailed),
		"duration_ms": time.Since(start).Milliseconds(),
		"error_code":  string(errors.CodeOf(cause)),
		"error":       cause.Error(),
	})
	return resp
}

func (a *Agent) emitCompleted(ctx context.Context, req Request, resp *Response, toolName string, start time.Time) {
	payload := map[string]any{
		"status":      string(resp.Status),
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if toolName != "" {
		payload["tool_name"] = toolName
	}
	if resp.Tool != nil && resp.Tool.Degraded {
		payload["error_code"] = string(errors.CodeUnparseableResponse)
	}
	a.emit(ctx, core.EventDispatchCompleted, req, payload)
}

func (a *Agent) emit(ctx context.Context, eventType core.EventType, req Request, payload map[string]any) {
	a.emitter.Record(ctx, core.NewEvent(eventType, req.SessionID.String(), payload))
}
