package config

import (
	"encoding/json"
	"reflect"
)

// Transport type discriminators for MCP server connections.
const (
	// TransportStdio is the child-process standard I/O transport.
	TransportStdio = "stdio"
	// TransportSSE is the Server-Sent Events transport.
	TransportSSE = "sse"
	// TransportStreamableHTTP is the streamable HTTP transport.
	TransportStreamableHTTP = "streamable-http"
)

// Transport is the tagged transport variant of a server configuration.
// Type selects which of the remaining fields are meaningful.
type Transport struct {
	Type string `json:"type"`

	// stdio transport fields
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`
	Stderr  string            `json:"stderr,omitempty"`

	// sse / streamable-http transport fields
	URL       string            `json:"url,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	SessionID string            `json:"sessionId,omitempty"`
}

// RetryConfig tunes the initialization retry loop of a managed client.
// Zero values fall back to the package defaults in internal/managed.
type RetryConfig struct {
	MaxRetries        int     `json:"maxRetries,omitempty"`
	BaseDelayMs       int     `json:"baseDelayMs,omitempty"`
	MaxDelayMs        int     `json:"maxDelayMs,omitempty"`
	BackoffMultiplier float64 `json:"backoffMultiplier,omitempty"`
}

// HTTPSettings is the deprecated remote-endpoint block. It is accepted on
// input, hoisted into Transport during normalization, and retained so that
// round-tripping a config does not lose data.
type HTTPSettings struct {
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// ServerConfig describes one MCP server. The struct accepts both the
// canonical shape (transport variant) and several legacy shapes; Normalize
// rewrites the latter into the former.
type ServerConfig struct {
	Label     string     `json:"label,omitempty"`
	Enabled   *bool      `json:"enabled,omitempty"`
	Disabled  *bool      `json:"disabled,omitempty"` // legacy, inverse of Enabled
	Transport *Transport `json:"transport,omitempty"`

	// Legacy top-level stdio fields (no transport block).
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`

	// Legacy top-level remote fields (no transport block).
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`

	// Deprecated discriminator, moved into Transport.Type by Normalize.
	TransportType string        `json:"transportType,omitempty"`
	HTTPSettings  *HTTPSettings `json:"httpSettings,omitempty"`

	// Schemas optionally overrides the server-advertised input schema per
	// tool name. Values are raw JSON Schema documents.
	Schemas map[string]json.RawMessage `json:"schemas,omitempty"`

	Retry     *RetryConfig `json:"retry,omitempty"`
	TimeoutMs int          `json:"timeoutMs,omitempty"`
}

// IsEnabled reports whether the server should be managed. The default is
// enabled; Normalize resolves the legacy Disabled field into Enabled.
func (c ServerConfig) IsEnabled() bool {
	if c.Enabled != nil {
		return *c.Enabled
	}
	if c.Disabled != nil {
		return !*c.Disabled
	}
	return true
}

// TransportType returns the transport discriminator of a normalized config,
// or an empty string when no transport is present.
func (c ServerConfig) TransportTypeName() string {
	if c.Transport == nil {
		return ""
	}
	return c.Transport.Type
}

// AppConfig is the top-level configuration document.
type AppConfig struct {
	MCPServers map[string]ServerConfig `json:"mcpServers"`
}

// SignificantlyChanged reports whether two normalized server configs differ
// in a way that requires the managed client to be rebuilt: the transport,
// the label, or the enabled flag.
func SignificantlyChanged(a, b ServerConfig) bool {
	if a.Label != b.Label {
		return true
	}
	if a.IsEnabled() != b.IsEnabled() {
		return true
	}
	return !reflect.DeepEqual(a.Transport, b.Transport)
}
