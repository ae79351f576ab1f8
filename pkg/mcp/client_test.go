package mcp

import (
	"context"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

func newWeatherTestServer(t *testing.T) *Client {
	t.Helper()

	server := mcpserver.NewMCPServer("test-tools", "1.0.0")
	server.AddTool(
		mcpgo.NewTool("get_weather",
			mcpgo.WithDescription("Returns the current temperature for a city."),
			mcpgo.WithString("city", mcpgo.Required()),
		),
		func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
			city := req.GetString("city", "")
			return &mcpgo.CallToolResult{
				Content: []mcpgo.Content{mcpgo.TextContent{
					Type: "text",
					Text: `{"city":"` + city + `","temperature_c":21}`,
				}},
			}, nil
		},
	)

	httpServer := mcpserver.NewTestStreamableHTTPServer(server)
	t.Cleanup(httpServer.Close)

	client, err := NewClientWithStreamableHTTPProtocol(httpServer.URL, mcpgo.LATEST_PROTOCOL_VERSION)
	if err != nil {
		t.Fatalf("NewClientWithStreamableHTTPProtocol error: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestClient_StreamableHTTP_ListTools(t *testing.T) {
	client := newWeatherTestServer(t)

	tools, err := client.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools error: %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "get_weather" {
		t.Fatalf("Expected tool 'get_weather', got %+v", tools)
	}
}

func TestClient_StreamableHTTP_CallTool(t *testing.T) {
	client := newWeatherTestServer(t)

	result, err := client.CallTool(context.Background(), "get_weather", map[string]interface{}{"city": "Seoul"})
	if err != nil {
		t.Fatalf("CallTool error: %v", err)
	}
	if result == nil || result.IsError {
		t.Fatalf("Expected successful tool result, got %+v", result)
	}

	payload, err := RawPayload(result)
	if err != nil {
		t.Fatalf("RawPayload error: %v", err)
	}
	text, ok := payload.(string)
	if !ok {
		t.Fatalf("Expected text payload, got %T", payload)
	}
	if text != `{"city":"Seoul","temperature_c":21}` {
		t.Fatalf("unexpected payload: %s", text)
	}
}

func TestRawPayload(t *testing.T) {
	if _, err := RawPayload(nil); err == nil {
		t.Errorf("expected error for nil result")
	}

	errResult := &mcpgo.CallToolResult{
		IsError: true,
		Content: []mcpgo.Content{mcpgo.TextContent{Type: "text", Text: "boom"}},
	}
	if _, err := RawPayload(errResult); err == nil {
		t.Errorf("expected error for IsError result")
	}

	structured := &mcpgo.CallToolResult{StructuredContent: map[string]any{"temperature_c": 21}}
	payload, err := RawPayload(structured)
	if err != nil {
		t.Fatalf("RawPayload error: %v", err)
	}
	record, ok := payload.(map[string]any)
	if !ok || record["temperature_c"] != 21 {
		t.Fatalf("expected structured payload, got %#v", payload)
	}

	empty, err := RawPayload(&mcpgo.CallToolResult{})
	if err != nil {
		t.Fatalf("RawPayload error: %v", err)
	}
	if empty != nil {
		t.Errorf("expected nil payload for empty result, got %#v", empty)
	}
}

func TestExtractTextContent(t *testing.T) {
	items := []mcpgo.Content{
		mcpgo.TextContent{Type: "text", Text: "first"},
		mcpgo.TextContent{Type: "text", Text: "second"},
	}
	if got := ExtractTextContent(items); got != "first\nsecond" {
		t.Errorf("unexpected joined text: %q", got)
	}
	if got := ExtractTextContent(nil); got != "" {
		t.Errorf("expected empty string for no content, got %q", got)
	}
}
