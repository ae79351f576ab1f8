package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/FISA5th-AI-Final-Team4/LLMServer/pkg/config"
)

func newToolServerURL(t *testing.T) string {
	t.Helper()

	server := mcpserver.NewMCPServer("test-tools", "1.0.0")
	server.AddTool(
		mcpgo.NewTool("get_weather",
			mcpgo.WithDescription("Returns the current temperature for a city."),
			mcpgo.WithString("city", mcpgo.Required()),
		),
		func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
			return &mcpgo.CallToolResult{
				Content: []mcpgo.Content{mcpgo.TextContent{Type: "text", Text: "clear, 21 degrees"}},
			}, nil
		},
	)

	httpServer := mcpserver.NewTestStreamableHTTPServer(server)
	t.Cleanup(httpServer.Close)
	return httpServer.URL
}

func testConfig(t *testing.T, toolServerURL string) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{
			Addr:                 "127.0.0.1:0",
			ReadTimeoutSeconds:   5,
			WriteTimeoutSeconds:  10,
			ShutdownGraceSeconds: 2,
		},
		Log: config.LogConfig{Level: "error", Format: "text"},
		LLM: config.LLMConfig{
			Provider:           "mock",
			Model:              "mock-model",
			CallTimeoutSeconds: 5,
		},
		MCP: config.MCPConfig{
			URL:                toolServerURL,
			Transport:          "http",
			CallTimeoutSeconds: 5,
			LoadRetries:        1,
			LoadBackoffMs:      10,
		},
		Telemetry: config.TelemetryConfig{Exporter: "none"},
		Trace: config.TraceConfig{
			QueueSize:  16,
			SQLitePath: filepath.Join(t.TempDir(), "events.db"),
		},
	}
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	cfg := testConfig(t, newToolServerURL(t))
	application, err := New(context.Background(), cfg, "")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = application.close(context.Background()) })
	return application
}

func TestNewLoadsCatalog(t *testing.T) {
	application := newTestApp(t)

	names := application.registry.Catalog().Names()
	if len(names) != 1 || names[0] != "get_weather" {
		t.Errorf("catalog = %v", names)
	}
}

func TestHTTPSurface(t *testing.T) {
	application := newTestApp(t)
	handler := application.httpServer.Handler

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("root status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/llm/mcp-router/dispatch",
		strings.NewReader(`{"prompt":"안녕하세요"}`))
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("dispatch status = %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("dispatch body not JSON: %v", err)
	}
	if body["response"] != "mock response" || body["status"] != "OK" {
		t.Errorf("body = %v", body)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t, newToolServerURL(t))
	application, err := New(context.Background(), cfg, "")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- application.Run(ctx) }()

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}
}

func TestNewProviderUnknown(t *testing.T) {
	if _, err := newProvider(config.LLMConfig{Provider: "abacus"}); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestNewMCPClientValidation(t *testing.T) {
	if _, err := newMCPClient(config.MCPConfig{Transport: "telepathy"}); err == nil {
		t.Error("expected error for unknown transport")
	}
	if _, err := newMCPClient(config.MCPConfig{Transport: "stdio"}); err == nil {
		t.Error("expected error for stdio without command")
	}
}
