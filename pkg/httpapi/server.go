// Package httpapi exposes the dispatch server over HTTP+JSON. Every
// response is well-formed JSON: dispatch failures surface as a fallback
// answer with an error code, never as a bare 500 page.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/FISA5th-AI-Final-Team4/LLMServer/pkg/core"
	"github.com/FISA5th-AI-Final-Team4/LLMServer/pkg/dispatch"
	"github.com/FISA5th-AI-Final-Team4/LLMServer/pkg/errors"
	"github.com/FISA5th-AI-Final-Team4/LLMServer/pkg/registry"
)

// DispatchService runs dispatches. Implemented by dispatch.Agent.
type DispatchService interface {
	Dispatch(ctx context.Context, req dispatch.Request) (*dispatch.Response, error)
	Direct(ctx context.Context, req dispatch.Request) (*dispatch.Response, error)
}

// RegistryService exposes the catalog operations the API needs.
type RegistryService interface {
	Load(ctx context.Context) error
	Catalog() *registry.Catalog
}

// TraceReader reads back recorded trace events for one session.
type TraceReader interface {
	SessionEvents(ctx context.Context, sessionID string) ([]core.Event, error)
}

// Server is the HTTP surface of the dispatch server.
type Server struct {
	agent    DispatchService
	registry RegistryService
	health   *core.HealthCheckProvider
	traces   TraceReader
	logger   *slog.Logger
	version  string
}

// Option configures a Server.
type Option func(*Server)

// WithHealth attaches the readiness checkers.
func WithHealth(provider *core.HealthCheckProvider) Option {
	return func(s *Server) { s.health = provider }
}

// WithTraceReader enables the session trace inspection endpoint.
func WithTraceReader(reader TraceReader) Option {
	return func(s *Server) { s.traces = reader }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithVersion sets the version reported on the root endpoint.
func WithVersion(version string) Option {
	return func(s *Server) { s.version = version }
}

// New creates the HTTP server facade.
func New(agent DispatchService, reg RegistryService, opts ...Option) *Server {
	s := &Server{
		agent:    agent,
		registry: reg,
		logger:   slog.Default(),
		version:  "dev",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /llm/mcp-router/echo", s.handleEcho)
	mux.HandleFunc("POST /llm/mcp-router/invoke", s.handleInvoke)
	mux.HandleFunc("POST /llm/mcp-router/dispatch", s.handleDispatch)
	mux.HandleFunc("POST /llm/mcp-router/tools/reload", s.handleToolsReload)
	mux.HandleFunc("GET /llm/mcp-router/tools", s.handleTools)
	mux.HandleFunc("GET /llm/mcp-router/sessions/{id}/events", s.handleSessionEvents)
	return mux
}

type promptRequest struct {
	Prompt       string `json:"prompt"`
	SessionID    string `json:"session_id,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`
}

type dispatchReply struct {
	Response  string                `json:"response"`
	SessionID string                `json:"session_id"`
	Status    dispatch.Status       `json:"status"`
	Tool      *dispatch.ToolOutcome `json:"tool,omitempty"`
	ErrorCode string                `json:"error_code,omitempty"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "LLM Query Routing Server",
		"version": s.version,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": string(core.HealthHealthy)})
		return
	}
	results, overall := s.health.CheckAll(r.Context())
	status := http.StatusOK
	if overall == core.HealthUnhealthy {
		status = http.StatusServiceUnavailable
	}
	checks := make([]map[string]string, 0, len(results))
	for _, result := range results {
		check := map[string]string{
			"component": result.Component,
			"status":    string(result.Status),
		}
		if result.Message != "" {
			check["message"] = result.Message
		}
		checks = append(checks, check)
	}
	writeJSON(w, status, map[string]any{
		"status": string(overall),
		"checks": checks,
	})
}

// handleEcho returns the request payload unchanged. Connectivity check for
// clients.
func (s *Server) handleEcho(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":      "request body must be a JSON object",
			"error_code": string(errors.CodeInvalidInput),
		})
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

// handleInvoke answers the prompt with a single model call, no tools.
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodePrompt(w, r)
	if !ok {
		return
	}
	dispatchReq, ok := s.buildRequest(w, req)
	if !ok {
		return
	}
	resp, err := s.agent.Direct(r.Context(), dispatchReq)
	s.writeDispatch(w, resp, err)
}

// handleDispatch runs the full tool dispatch flow.
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodePrompt(w, r)
	if !ok {
		return
	}
	dispatchReq, ok := s.buildRequest(w, req)
	if !ok {
		return
	}
	resp, err := s.agent.Dispatch(r.Context(), dispatchReq)
	s.writeDispatch(w, resp, err)
}

func (s *Server) handleToolsReload(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Load(r.Context()); err != nil {
		s.logger.ErrorContext(r.Context(), "catalog reload failed", "error", err)
		writeJSON(w, statusOf(err), map[string]string{
			"status":     "error",
			"error_code": string(errors.CodeOf(err)),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "reloaded",
		"tools":  s.registry.Catalog().Names(),
	})
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"tools": s.registry.Catalog().Names(),
	})
}

func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	if s.traces == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "trace storage not configured"})
		return
	}
	sessionID := r.PathValue("id")
	if _, err := uuid.Parse(sessionID); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "session id must be a UUID"})
		return
	}
	events, err := s.traces.SessionEvents(r.Context(), sessionID)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "trace read failed", "session_id", sessionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "trace read failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"events":     eventViews(events),
	})
}

func (s *Server) decodePrompt(w http.ResponseWriter, r *http.Request) (promptRequest, bool) {
	var req promptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":      "request body must be JSON with a prompt field",
			"error_code": string(errors.CodeInvalidInput),
		})
		return promptRequest{}, false
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":      "prompt is empty",
			"error_code": string(errors.CodeInvalidInput),
		})
		return promptRequest{}, false
	}
	return req, true
}

func (s *Server) buildRequest(w http.ResponseWriter, req promptRequest) (dispatch.Request, bool) {
	out := dispatch.Request{
		Query:        req.Prompt,
		SystemPrompt: req.SystemPrompt,
	}
	if req.SessionID != "" {
		id, err := uuid.Parse(req.SessionID)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error":      "session_id must be a UUID",
				"error_code": string(errors.CodeInvalidInput),
			})
			return dispatch.Request{}, false
		}
		out.SessionID = id
	}
	return out, true
}

// writeDispatch serializes a dispatch outcome. A failed dispatch still
// carries its fallback answer; the HTTP status reflects the error code.
func (s *Server) writeDispatch(w http.ResponseWriter, resp *dispatch.Response, err error) {
	reply := dispatchReply{
		Response:  resp.Answer,
		SessionID: resp.SessionID.String(),
		Status:    resp.Status,
		Tool:      resp.Tool,
	}
	status := http.StatusOK
	if err != nil {
		reply.ErrorCode = string(errors.CodeOf(err))
		status = statusOf(err)
	}
	writeJSON(w, status, reply)
}

type eventView struct {
	Type      string         `json:"type"`
	Timestamp string         `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

func eventViews(events []core.Event) []eventView {
	views := make([]eventView, 0, len(events))
	for _, e := range events {
		views = append(views, eventView{
			Type:      string(e.Type),
			Timestamp: e.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
			Payload:   e.Payload,
		})
	}
	return views
}

func statusOf(err error) int {
	if de := errors.AsDispatchError(err); de != nil && de.StatusCode > 0 {
		return de.StatusCode
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
