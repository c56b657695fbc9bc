package mcpclient

import (
	"fmt"

	"toolgate/internal/config"
)

// New creates the appropriate MCP client for a transport variant. The
// returned client is not connected; callers drive Initialize.
//
// Supported types:
//   - "stdio": child-process client with newline-framed JSON-RPC
//   - "sse": Server-Sent Events client
//   - "streamable-http": streaming HTTP client, sticky when a sessionId is set
func New(t config.Transport) (MCPClient, error) {
	switch t.Type {
	case config.TransportStdio:
		if t.Command == "" {
			return nil, fmt.Errorf("command is required for stdio transport")
		}
		return NewStdioClient(t.Command, t.Args, t.Env, t.Cwd), nil

	case config.TransportSSE:
		if t.URL == "" {
			return nil, fmt.Errorf("url is required for sse transport")
		}
		return NewSSEClient(t.URL, t.Headers), nil

	case config.TransportStreamableHTTP:
		if t.URL == "" {
			return nil, fmt.Errorf("url is required for streamable-http transport")
		}
		return NewStreamableHTTPClient(t.URL, t.Headers, t.SessionID), nil

	default:
		return nil, fmt.Errorf("unsupported transport type: %q (supported: %s, %s, %s)",
			t.Type, config.TransportStdio, config.TransportSSE, config.TransportStreamableHTTP)
	}
}
