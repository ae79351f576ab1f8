package mcp

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// RawPayload converts a CallToolResult into the opaque payload handed to the
// response normalizer. Structured content wins over text content; a result
// flagged IsError becomes an error carrying the tool's message.
func RawPayload(result *mcp.CallToolResult) (any, error) {
	if result == nil {
		return nil, errors.New("mcp tool result is nil")
	}

	if result.IsError {
		return nil, fmt.Errorf("mcp tool returned error: %s", ExtractTextContent(result.Content))
	}

	if result.StructuredContent != nil {
		return result.StructuredContent, nil
	}

	if text := ExtractTextContent(result.Content); text != "" {
		return text, nil
	}

	// No structured content, no text: the tool answered with nothing.
	return nil, nil
}

// ExtractTextContent joins the text parts of an MCP content list.
func ExtractTextContent(items []mcp.Content) string {
	if len(items) == 0 {
		return ""
	}
	var parts []string
	for _, item := range items {
		switch content := item.(type) {
		case mcp.TextContent:
			parts = append(parts, content.Text)
		case *mcp.TextContent:
			parts = append(parts, content.Text)
		}
	}
	return strings.Join(parts, "\n")
}
