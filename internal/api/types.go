package api

import "time"

// ServerStatus describes the lifecycle state of a managed MCP server.
type ServerStatus string

const (
	// StatusUninitialized means no initialization attempt has been observed yet.
	StatusUninitialized ServerStatus = "uninitialized"
	// StatusInitializing means a connection attempt is in flight.
	StatusInitializing ServerStatus = "initializing"
	// StatusConnected means the handshake succeeded and tools were discovered.
	StatusConnected ServerStatus = "connected"
	// StatusNoToolsFound means the handshake succeeded but the catalog is empty.
	StatusNoToolsFound ServerStatus = "no_tools_found"
	// StatusError means all initialization attempts failed.
	StatusError ServerStatus = "error"
	// StatusDisabled means the server is present in the config but disabled.
	StatusDisabled ServerStatus = "disabled"
)

// ToolDescriptor is the manager-side projection of a tool advertised by an
// MCP server. InputSchema is a raw JSON Schema object; when the server does
// not advertise one, consumers substitute an empty object schema.
type ToolDescriptor struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"inputSchema,omitempty"`
	Annotations map[string]interface{} `json:"annotations,omitempty"`
}

// ManagedServerInfo is the cached status projection of one managed server.
// It is what status APIs serve and what the status cache stores.
type ManagedServerInfo struct {
	Key           string           `json:"key"`
	Label         string           `json:"label"`
	Status        ServerStatus     `json:"status"`
	Tools         []ToolDescriptor `json:"tools"`
	ErrorDetails  string           `json:"errorDetails,omitempty"`
	TransportType string           `json:"transportType"`
}

// ErrorKind classifies failures surfaced by the manager. The taxonomy is
// stable and consumed by metrics and by the structured error values returned
// from tool invocations.
type ErrorKind string

const (
	ErrKindConfigInvalid    ErrorKind = "config_invalid"
	ErrKindConnection       ErrorKind = "connection_error"
	ErrKindTimeout          ErrorKind = "timeout"
	ErrKindSchemaValidation ErrorKind = "schema_validation_error"
	ErrKindExecution        ErrorKind = "execution_error"
	ErrKindCircuitOpen      ErrorKind = "circuit_open"
	ErrKindAborted          ErrorKind = "aborted"
	ErrKindCacheUnavailable ErrorKind = "cache_unavailable"
)

// ToolExecution records one tool invocation for the metrics sink.
type ToolExecution struct {
	ServerKey    string
	ToolName     string
	CallID       string
	StartedAt    time.Time
	Duration     time.Duration
	Success      bool
	ErrorKind    ErrorKind
	ErrorMessage string
	InputBytes   int
	OutputBytes  int
	OutputKind   string
}

// ToolError is the structured failure value returned from a wrapped tool
// invocation. It is returned as a value rather than an error so that the
// consuming LLM runtime keeps going when a single tool call fails.
type ToolError struct {
	Error     bool      `json:"error"`
	Kind      ErrorKind `json:"kind,omitempty"`
	Message   string    `json:"message"`
	ToolName  string    `json:"toolName"`
	ServerKey string    `json:"serverKey"`
}
