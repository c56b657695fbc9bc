// Package aggregator exposes the tools of all connected servers under one
// flat, prefixed namespace and wraps every invocation with validation,
// response normalization and metrics.
package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"toolgate/internal/api"
	"toolgate/internal/managed"
	"toolgate/internal/metrics"
	"toolgate/internal/normalize"
	"toolgate/internal/registry"
	"toolgate/pkg/logging"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// AggregatedTool is one exposed tool: the server's tool renamed to
// <serverKey>_<toolName> with a normalized parameter schema.
type AggregatedTool struct {
	Name        string
	ServerKey   string
	ToolName    string
	Description string
	Parameters  map[string]interface{}
	Annotations map[string]interface{}
}

// Aggregator builds the exposed tool set from the registry and routes
// invocations back to the owning managed client.
type Aggregator struct {
	registry *registry.Registry
	sink     metrics.Sink
}

// New creates an aggregator. A nil sink selects Noop.
func New(reg *registry.Registry, sink metrics.Sink) *Aggregator {
	if sink == nil {
		sink = metrics.Noop{}
	}
	return &Aggregator{registry: reg, sink: sink}
}

// ExposedName returns the aggregated name of a server's tool.
func ExposedName(serverKey, toolName string) string {
	return serverKey + "_" + toolName
}

// Tools returns the aggregated tool set: every tool of every connected
// server, prefixed with its server key. Duplicate tool names within one
// server are dropped, first wins. Cross-server collisions cannot happen
// because the server key is a unique prefix.
func (a *Aggregator) Tools(ctx context.Context) []AggregatedTool {
	var out []AggregatedTool

	for _, key := range a.registry.Keys() {
		client, live := a.registry.Get(key)
		if !live {
			continue
		}
		status, err := client.Status(ctx)
		if err != nil || status != api.StatusConnected {
			continue
		}
		tools, err := client.Tools(ctx)
		if err != nil {
			continue
		}

		seen := make(map[string]struct{}, len(tools))
		for _, desc := range managed.ToolDescriptors(tools) {
			if _, dup := seen[desc.Name]; dup {
				logging.Warn("Aggregator", "Server %s advertises duplicate tool %s, keeping the first", key, desc.Name)
				continue
			}
			seen[desc.Name] = struct{}{}

			out = append(out, AggregatedTool{
				Name:        ExposedName(key, desc.Name),
				ServerKey:   key,
				ToolName:    desc.Name,
				Description: desc.Description,
				Parameters:  NormalizeInputSchema(desc.InputSchema),
				Annotations: desc.Annotations,
			})
		}
	}
	return out
}

// resolve splits an exposed name back into server key and tool name. Server
// keys may contain underscores, so the longest registered key wins.
func (a *Aggregator) resolve(exposedName string) (serverKey, toolName string, ok bool) {
	for _, key := range a.registry.Keys() {
		prefix := key + "_"
		if strings.HasPrefix(exposedName, prefix) && len(exposedName) > len(prefix) && len(key) > len(serverKey) {
			serverKey = key
			toolName = exposedName[len(prefix):]
			ok = true
		}
	}
	return serverKey, toolName, ok
}

// Invoke executes one aggregated tool call. Failures are returned as an
// api.ToolError value rather than an error so a single failed call never
// breaks the consuming runtime. Oversized string results come back as
// structured chunked content.
func (a *Aggregator) Invoke(ctx context.Context, exposedName string, args map[string]interface{}) interface{} {
	callID := uuid.NewString()
	started := time.Now()

	serverKey, toolName, ok := a.resolve(exposedName)
	if !ok {
		return a.fail(exposedName, "", callID, started, args,
			api.ErrKindExecution, fmt.Sprintf("unknown tool: %s", exposedName))
	}

	if cfg, found := a.registry.Config(serverKey); found {
		if raw, has := cfg.Schemas[toolName]; has {
			if err := validateArgs(toolName, raw, args); err != nil {
				return a.fail(exposedName, serverKey, callID, started, args,
					api.ErrKindSchemaValidation, err.Error())
			}
		}
	}

	client, live := a.registry.Get(serverKey)
	if !live {
		return a.fail(exposedName, serverKey, callID, started, args,
			api.ErrKindConnection, fmt.Sprintf("server %s is not available", serverKey))
	}

	value, err := client.Invoke(ctx, toolName, args)
	if err != nil {
		return a.fail(exposedName, serverKey, callID, started, args,
			managed.KindOf(err), err.Error())
	}

	// Normalization strategy keys off the tool's own name; the server key
	// prefix must not drag every tool of a "fetcher" server into the HTML
	// path.
	out := normalize.Apply(toolName, value)

	a.sink.RecordToolExecution(api.ToolExecution{
		ServerKey:   serverKey,
		ToolName:    exposedName,
		CallID:      callID,
		StartedAt:   started,
		Duration:    time.Since(started),
		Success:     true,
		InputBytes:  sizeOf(args),
		OutputBytes: sizeOf(out),
		OutputKind:  kindOf(out),
	})
	return out
}

// fail records a failed execution and builds the structured error value.
func (a *Aggregator) fail(exposedName, serverKey, callID string, started time.Time, args map[string]interface{}, kind api.ErrorKind, message string) api.ToolError {
	logging.Warn("Aggregator", "Tool %s failed (%s): %s", exposedName, kind, message)

	a.sink.RecordToolExecution(api.ToolExecution{
		ServerKey:    serverKey,
		ToolName:     exposedName,
		CallID:       callID,
		StartedAt:    started,
		Duration:     time.Since(started),
		Success:      false,
		ErrorKind:    kind,
		ErrorMessage: message,
		InputBytes:   sizeOf(args),
	})

	return api.ToolError{
		Error:     true,
		Kind:      kind,
		Message:   message,
		ToolName:  exposedName,
		ServerKey: serverKey,
	}
}

// validateArgs checks args against a registered JSON Schema override.
func validateArgs(toolName string, raw json.RawMessage, args map[string]interface{}) error {
	schema, err := jsonschema.CompileString(toolName+".schema.json", string(raw))
	if err != nil {
		return fmt.Errorf("registered schema for %s is invalid: %v", toolName, err)
	}

	// The validator wants plain decoded JSON values.
	var doc interface{} = map[string]interface{}{}
	if args != nil {
		data, err := json.Marshal(args)
		if err != nil {
			return fmt.Errorf("arguments are not serializable: %v", err)
		}
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("arguments are not serializable: %v", err)
		}
	}

	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("argument validation failed: %v", err)
	}
	return nil
}

// sizeOf measures a value the way it would travel on the wire.
func sizeOf(v interface{}) int {
	if v == nil {
		return 0
	}
	if s, ok := v.(string); ok {
		return len(s)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return len(data)
}

// kindOf names the shape of a result for the metrics sink.
func kindOf(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, int, int64:
		return "number"
	case []interface{}:
		return "array"
	case normalize.ChunkedContent:
		return t.Type
	case normalize.TruncatedResponse:
		return t.Type
	case map[string]interface{}:
		if s, ok := t["type"].(string); ok {
			return s
		}
		return "object"
	default:
		return "object"
	}
}
