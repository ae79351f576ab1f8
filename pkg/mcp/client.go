// Package mcp wraps the mcp-go client for the dispatch server: catalog
// listing with retry and backoff, and strictly single-attempt tool
// invocation. Retry policy for invocations belongs to the caller, never to
// this layer.
package mcp

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/FISA5th-AI-Final-Team4/LLMServer/pkg/resilience"
)

const (
	defaultTimeout = 30 * time.Second
	defaultRetries = 2
	defaultBackoff = 200 * time.Millisecond
)

// ClientOption customizes the MCP client wrapper behavior.
type ClientOption func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithListRetry configures retry count and backoff for catalog listing.
// Tool invocation is never retried regardless of this setting.
func WithListRetry(retries int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		if retries >= 0 {
			c.listRetries = retries
		}
		if backoff > 0 {
			c.backoff = backoff
		}
	}
}

// Client wraps the mcp-go client for catalog fetch and tool invocation.
type Client struct {
	mcpClient   client.MCPClient
	timeout     time.Duration
	listRetries int
	backoff     time.Duration
}

// NewClient creates a new Client with the given MCP client implementation.
func NewClient(c client.MCPClient, opts ...ClientOption) *Client {
	wrapped := &Client{
		mcpClient:   c,
		timeout:     defaultTimeout,
		listRetries: defaultRetries,
		backoff:     defaultBackoff,
	}
	for _, opt := range opts {
		opt(wrapped)
	}
	return wrapped
}

// NewClientWithStdio creates a new MCP client that connects via Stdio.
func NewClientWithStdio(command string, args []string, opts ...ClientOption) (*Client, error) {
	return NewClientWithStdioProtocol(command, args, mcp.LATEST_PROTOCOL_VERSION, opts...)
}

// NewClientWithStdioProtocol creates a new Stdio MCP client using a specified
// protocol version.
func NewClientWithStdioProtocol(command string, args []string, protocolVersion string, opts ...ClientOption) (*Client, error) {
	stdioClient, err := client.NewStdioMCPClient(command, nil, args...)
	if err != nil {
		return nil, err
	}
	return initClient(stdioClient, protocolVersion, opts...)
}

// NewClientWithStreamableHTTP creates a new MCP client that connects to a
// streamable HTTP endpoint.
func NewClientWithStreamableHTTP(url string, opts ...ClientOption) (*Client, error) {
	return NewClientWithStreamableHTTPProtocol(url, mcp.LATEST_PROTOCOL_VERSION, opts...)
}

// NewClientWithStreamableHTTPProtocol creates a new streamable HTTP MCP
// client using a specified protocol version.
func NewClientWithStreamableHTTPProtocol(url, protocolVersion string, opts ...ClientOption) (*Client, error) {
	httpClient, err := client.NewStreamableHttpClient(url)
	if err != nil {
		return nil, err
	}
	return initClient(httpClient, protocolVersion, opts...)
}

func initClient(c *client.Client, protocolVersion string, opts ...ClientOption) (*Client, error) {
	if protocolVersion == "" {
		protocolVersion = mcp.LATEST_PROTOCOL_VERSION
	}

	if err := c.Start(context.Background()); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = protocolVersion
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    "llmserver-client",
		Version: "0.1.0",
	}

	if _, err := c.Initialize(ctx, initRequest); err != nil {
		return nil, err
	}

	return NewClient(c, opts...), nil
}

// ListTools retrieves the list of tools available on the server, retrying
// transient failures with exponential backoff.
func (c *Client) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	req := mcp.ListToolsRequest{}
	retry := resilience.DefaultRetryConfig().
		WithMaxAttempts(c.listRetries + 1).
		WithInitialDelay(c.backoff)

	var tools []mcp.Tool
	err := retry.Do(ctx, func() error {
		reqCtx, cancel := c.withTimeout(ctx)
		defer cancel()
		res, err := c.mcpClient.ListTools(reqCtx, req)
		if err != nil {
			return err
		}
		tools = res.Tools
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tools, nil
}

// CallTool executes a tool on the server. Single attempt: a failed invocation
// is returned to the caller as-is.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	reqCtx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.mcpClient.CallTool(reqCtx, req)
}

// Close closes the client connection.
func (c *Client) Close() error {
	return c.mcpClient.Close()
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}
