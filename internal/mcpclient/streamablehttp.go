package mcpclient

import (
	"context"
	"fmt"

	"toolgate/pkg/logging"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

// sessionIDHeader pins a streamable-HTTP exchange to an existing server-side
// session when the config provides one.
const sessionIDHeader = "Mcp-Session-Id"

// StreamableHTTPClient implements the MCPClient interface using the
// streamable HTTP transport. When a session id is configured the client is
// sticky to that session; otherwise the session is anonymous.
type StreamableHTTPClient struct {
	baseMCPClient
	url       string
	headers   map[string]string
	sessionID string
}

// NewStreamableHTTPClient creates a new streamable-HTTP-based MCP client.
func NewStreamableHTTPClient(url string, headers map[string]string, sessionID string) *StreamableHTTPClient {
	return &StreamableHTTPClient{
		url:       url,
		headers:   withUserAgent(headers),
		sessionID: sessionID,
	}
}

// Initialize establishes the connection and performs protocol handshake
func (c *StreamableHTTPClient) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	logging.Debug("StreamableHTTPClient", "Creating StreamableHTTP client for URL: %s", c.url)

	headers := c.headers
	if c.sessionID != "" {
		headers = make(map[string]string, len(c.headers)+1)
		for k, v := range c.headers {
			headers[k] = v
		}
		headers[sessionIDHeader] = c.sessionID
	}

	var opts []transport.StreamableHTTPCOption
	if len(headers) > 0 {
		opts = append(opts, transport.WithHTTPHeaders(headers))
	}

	mcpClient, err := client.NewStreamableHttpClient(c.url, opts...)
	if err != nil {
		return fmt.Errorf("failed to create StreamableHTTP client: %w", err)
	}

	initResult, err := mcpClient.Initialize(ctx, initializeRequest())
	if err != nil {
		mcpClient.Close()
		return fmt.Errorf("failed to initialize MCP protocol: %w", err)
	}

	c.client = mcpClient
	c.connected = true

	logging.Debug("StreamableHTTPClient", "StreamableHTTP client initialized. Server: %s, Version: %s",
		initResult.ServerInfo.Name, initResult.ServerInfo.Version)

	return nil
}

// Close cleanly shuts down the client connection
func (c *StreamableHTTPClient) Close() error {
	return c.closeClient()
}

// ListTools returns all available tools from the server
func (c *StreamableHTTPClient) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	return c.listTools(ctx)
}

// CallTool executes a specific tool and returns the result
func (c *StreamableHTTPClient) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	return c.callTool(ctx, name, args)
}

// Ping checks if the server is responsive
func (c *StreamableHTTPClient) Ping(ctx context.Context) error {
	return c.ping(ctx)
}
