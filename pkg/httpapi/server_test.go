package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/FISA5th-AI-Final-Team4/LLMServer/pkg/core"
	"github.com/FISA5th-AI-Final-Team4/LLMServer/pkg/dispatch"
	"github.com/FISA5th-AI-Final-Team4/LLMServer/pkg/errors"
	"github.com/FISA5th-AI-Final-Team4/LLMServer/pkg/registry"
)

type fakeAgent struct {
	resp       *dispatch.Response
	err        error
	lastReq    dispatch.Request
	directHits int
	fullHits   int
}

func (f *fakeAgent) Dispatch(_ context.Context, req dispatch.Request) (*dispatch.Response, error) {
	f.fullHits++
	f.lastReq = req
	return f.answer(req)
}

func (f *fakeAgent) Direct(_ context.Context, req dispatch.Request) (*dispatch.Response, error) {
	f.directHits++
	f.lastReq = req
	return f.answer(req)
}

func (f *fakeAgent) answer(req dispatch.Request) (*dispatch.Response, error) {
	if f.resp != nil {
		return f.resp, f.err
	}
	return &dispatch.Response{
		Answer:    "ok",
		SessionID: req.SessionID,
		Status:    dispatch.StatusOK,
	}, f.err
}

type fakeCatalogSource struct {
	tools   []mcpgo.Tool
	listErr error
}

func (f *fakeCatalogSource) ListTools(ctx context.Context) ([]mcpgo.Tool, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.tools, nil
}

func (f *fakeCatalogSource) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcpgo.CallToolResult, error) {
	return nil, nil
}

func newTestServer(t *testing.T, agent DispatchService) (*Server, *registry.Registry) {
	t.Helper()
	source := &fakeCatalogSource{tools: []mcpgo.Tool{{Name: "get_weather"}, {Name: "get_time"}}}
	reg := registry.New(source)
	if err := reg.Load(context.Background()); err != nil {
		t.Fatalf("loading registry: %v", err)
	}
	return New(agent, reg), reg
}

func postJSON(t *testing.T, handler http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v\n%s", err, rec.Body.String())
	}
	return body
}

func TestRoot(t *testing.T) {
	server, _ := newTestServer(t, &fakeAgent{})
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["service"] != "LLM Query Routing Server" {
		t.Errorf("service = %v", body["service"])
	}
}

func TestEchoReturnsPayloadVerbatim(t *testing.T) {
	server, _ := newTestServer(t, &fakeAgent{})
	rec := postJSON(t, server.Handler(), "/llm/mcp-router/echo",
		`{"prompt":"hello","nested":{"n":1},"extra":["a","b"]}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["prompt"] != "hello" {
		t.Errorf("prompt = %v", body["prompt"])
	}
	if nested, ok := body["nested"].(map[string]any); !ok || nested["n"] != 1.0 {
		t.Errorf("nested = %v", body["nested"])
	}
	if extra, ok := body["extra"].([]any); !ok || len(extra) != 2 {
		t.Errorf("extra = %v", body["extra"])
	}

	rec = postJSON(t, server.Handler(), "/llm/mcp-router/echo", `not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d for malformed body, want 400", rec.Code)
	}
}

func TestDispatchEndpoint(t *testing.T) {
	session := uuid.New()
	agent := &fakeAgent{
		resp: &dispatch.Response{
			Answer:    "It is 21 degrees.",
			SessionID: session,
			Status:    dispatch.StatusOK,
			Tool:      &dispatch.ToolOutcome{Name: "get_weather", Summary: "temperature_c: 21"},
		},
	}
	server, _ := newTestServer(t, agent)

	rec := postJSON(t, server.Handler(), "/llm/mcp-router/dispatch",
		`{"prompt":"서울 날씨?","session_id":"`+session.String()+`"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["response"] != "It is 21 degrees." || body["status"] != "OK" {
		t.Errorf("body = %v", body)
	}
	tool, ok := body["tool"].(map[string]any)
	if !ok || tool["name"] != "get_weather" {
		t.Errorf("tool = %v", body["tool"])
	}
	if agent.lastReq.Query != "서울 날씨?" || agent.lastReq.SessionID != session {
		t.Errorf("agent saw %+v", agent.lastReq)
	}
	if agent.fullHits != 1 || agent.directHits != 0 {
		t.Errorf("hits = %d/%d", agent.fullHits, agent.directHits)
	}
}

func TestDispatchFailureStaysWellFormed(t *testing.T) {
	session := uuid.New()
	agent := &fakeAgent{
		resp: &dispatch.Response{
			Answer:    "Sorry, something went wrong while handling your request. Please try again in a moment.",
			SessionID: session,
			Status:    dispatch.StatusFailed,
		},
		err: errors.New(errors.CodeUnknownTool, "model selected a tool not in the catalog", nil),
	}
	server, _ := newTestServer(t, agent)

	rec := postJSON(t, server.Handler(), "/llm/mcp-router/dispatch", `{"prompt":"hi"}`)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "FAILED" || body["error_code"] != string(errors.CodeUnknownTool) {
		t.Errorf("body = %v", body)
	}
	if body["response"] == "" {
		t.Error("failed dispatch must still carry an answer")
	}
}

func TestInvokeUsesDirectPath(t *testing.T) {
	agent := &fakeAgent{}
	server, _ := newTestServer(t, agent)

	rec := postJSON(t, server.Handler(), "/llm/mcp-router/invoke", `{"prompt":"just answer"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if agent.directHits != 1 || agent.fullHits != 0 {
		t.Errorf("hits = %d/%d", agent.directHits, agent.fullHits)
	}
}

func TestBadRequests(t *testing.T) {
	server, _ := newTestServer(t, &fakeAgent{})
	handler := server.Handler()

	tests := []struct {
		name string
		body string
	}{
		{"not json", `hello`},
		{"empty prompt", `{"prompt":"  "}`},
		{"bad session id", `{"prompt":"hi","session_id":"not-a-uuid"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, handler, "/llm/mcp-router/dispatch", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d", rec.Code)
			}
			if body := decodeBody(t, rec); body["error_code"] != string(errors.CodeInvalidInput) {
				t.Errorf("body = %v", body)
			}
		})
	}
}

func TestToolsListAndReload(t *testing.T) {
	server, _ := newTestServer(t, &fakeAgent{})
	handler := server.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/llm/mcp-router/tools", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	tools, _ := body["tools"].([]any)
	if len(tools) != 2 {
		t.Errorf("tools = %v", body["tools"])
	}

	rec = postJSON(t, handler, "/llm/mcp-router/tools/reload", `{}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("reload status = %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["status"] != "reloaded" {
		t.Errorf("body = %v", body)
	}
}

func TestHealthz(t *testing.T) {
	health := core.NewHealthCheckProvider()
	health.RegisterChecker("llm", core.NewFunctionHealthChecker(func(context.Context) core.HealthResult {
		return core.HealthResult{Status: core.HealthUnhealthy, Message: "provider down"}
	}))

	source := &fakeCatalogSource{}
	reg := registry.New(source)
	server := New(&fakeAgent{}, reg, WithHealth(health))

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["status"] != string(core.HealthUnhealthy) {
		t.Errorf("body = %v", body)
	}
}

type fakeTraces struct {
	events []core.Event
}

func (f *fakeTraces) SessionEvents(_ context.Context, sessionID string) ([]core.Event, error) {
	return f.events, nil
}

func TestSessionEvents(t *testing.T) {
	session := uuid.New()
	traces := &fakeTraces{events: []core.Event{
		{Type: core.EventDispatchCompleted, SessionID: session.String(), Timestamp: time.Now().UTC()},
	}}
	source := &fakeCatalogSource{}
	server := New(&fakeAgent{}, registry.New(source), WithTraceReader(traces))
	handler := server.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/llm/mcp-router/sessions/"+session.String()+"/events", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	events, _ := body["events"].([]any)
	if len(events) != 1 {
		t.Errorf("events = %v", body["events"])
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/llm/mcp-router/sessions/not-a-uuid/events", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d for bad uuid", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	server, _ := newTestServer(t, &fakeAgent{})
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/llm/mcp-router/dispatch", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}
