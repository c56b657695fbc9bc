package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"toolgate/internal/api"
	"toolgate/pkg/logging"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// Facade transports.
const (
	FacadeStreamableHTTP = "streamable-http"
	FacadeSSE            = "sse"
)

// ServerOptions configures the MCP facade.
type ServerOptions struct {
	Host      string
	Port      int
	Transport string // FacadeStreamableHTTP (default) or FacadeSSE
	Name      string
	Version   string
}

// Server is the MCP-facing side of the aggregator: it republishes the
// aggregated tool set through an MCP server so LLM runtimes can consume the
// whole federation as a single endpoint.
type Server struct {
	agg  *Aggregator
	opts ServerOptions

	mu         sync.Mutex
	mcp        *mcpserver.MCPServer
	sse        *mcpserver.SSEServer
	streamable *mcpserver.StreamableHTTPServer
	active     map[string]bool
}

// NewServer creates the facade. Start must be called before it serves.
func NewServer(agg *Aggregator, opts ServerOptions) *Server {
	if opts.Name == "" {
		opts.Name = "toolgate-aggregator"
	}
	if opts.Version == "" {
		opts.Version = "1.0.0"
	}
	if opts.Transport == "" {
		opts.Transport = FacadeStreamableHTTP
	}
	return &Server{
		agg:    agg,
		opts:   opts,
		active: map[string]bool{},
	}
}

// Start publishes the current tool set and begins serving on the configured
// transport.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.mcp != nil {
		s.mu.Unlock()
		return fmt.Errorf("aggregator server already started")
	}
	s.mcp = mcpserver.NewMCPServer(
		s.opts.Name,
		s.opts.Version,
		mcpserver.WithToolCapabilities(true),
	)
	s.mu.Unlock()

	s.SyncTools(ctx)

	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	switch s.opts.Transport {
	case FacadeSSE:
		logging.Info("Aggregator", "Serving MCP facade with SSE transport on %s", addr)
		baseURL := fmt.Sprintf("http://%s", addr)
		s.sse = mcpserver.NewSSEServer(
			s.mcp,
			mcpserver.WithBaseURL(baseURL),
			mcpserver.WithSSEEndpoint("/sse"),
			mcpserver.WithMessageEndpoint("/message"),
		)
		sseServer := s.sse
		go func() {
			if err := sseServer.Start(addr); err != nil && err != http.ErrServerClosed {
				logging.Error("Aggregator", err, "SSE server error")
			}
		}()
	default:
		logging.Info("Aggregator", "Serving MCP facade with streamable-http transport on %s", addr)
		s.streamable = mcpserver.NewStreamableHTTPServer(s.mcp)
		streamableServer := s.streamable
		go func() {
			if err := streamableServer.Start(addr); err != nil && err != http.ErrServerClosed {
				logging.Error("Aggregator", err, "Streamable HTTP server error")
			}
		}()
	}
	return nil
}

// SyncTools republishes the aggregated tool set: new tools are registered,
// tools whose server went away are removed.
func (s *Server) SyncTools(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mcp == nil {
		return
	}

	tools := s.agg.Tools(ctx)

	current := make(map[string]struct{}, len(tools))
	var toAdd []mcpserver.ServerTool
	for _, tool := range tools {
		current[tool.Name] = struct{}{}
		if s.active[tool.Name] {
			continue
		}
		s.active[tool.Name] = true
		toAdd = append(toAdd, mcpserver.ServerTool{
			Tool:    facadeTool(tool),
			Handler: s.handler(tool.Name),
		})
	}

	var toRemove []string
	for name := range s.active {
		if _, still := current[name]; !still {
			toRemove = append(toRemove, name)
			delete(s.active, name)
		}
	}

	if len(toAdd) > 0 {
		s.mcp.AddTools(toAdd...)
	}
	if len(toRemove) > 0 {
		s.mcp.DeleteTools(toRemove...)
	}
	if len(toAdd)+len(toRemove) > 0 {
		logging.Debug("Aggregator", "Facade tools synced: %d added, %d removed", len(toAdd), len(toRemove))
	}
}

// facadeTool renders one aggregated tool as an MCP tool. The normalized
// parameter schema travels as a raw schema so nothing is lost in translation.
func facadeTool(tool AggregatedTool) mcp.Tool {
	raw, err := json.Marshal(tool.Parameters)
	if err != nil {
		raw = []byte(`{"type":"object","properties":{}}`)
	}
	return mcp.NewToolWithRawSchema(tool.Name, tool.Description, raw)
}

// handler routes one facade call into the invocation wrapper.
func (s *Server) handler(exposedName string) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := make(map[string]interface{})
		if req.Params.Arguments != nil {
			if argsMap, ok := req.Params.Arguments.(map[string]interface{}); ok {
				args = argsMap
			}
		}

		result := s.agg.Invoke(ctx, exposedName, args)

		if toolErr, failed := result.(api.ToolError); failed {
			data, _ := json.Marshal(toolErr)
			return mcp.NewToolResultError(string(data)), nil
		}
		if text, ok := result.(string); ok {
			return mcp.NewToolResultText(text), nil
		}
		data, err := json.Marshal(result)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("result serialization failed: %v", err)), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	}
}

// Stop shuts the transport servers down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	sseServer := s.sse
	streamableServer := s.streamable
	s.sse = nil
	s.streamable = nil
	s.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if sseServer != nil {
		if err := sseServer.Shutdown(shutdownCtx); err != nil {
			logging.Error("Aggregator", err, "Error shutting down SSE server")
		}
	}
	if streamableServer != nil {
		if err := streamableServer.Shutdown(shutdownCtx); err != nil {
			logging.Error("Aggregator", err, "Error shutting down streamable HTTP server")
		}
	}
	return nil
}
