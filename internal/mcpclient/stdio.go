package mcpclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"toolgate/internal/stdio"
	"toolgate/pkg/logging"

	"github.com/mark3labs/mcp-go/mcp"
)

// DefaultStdioInitTimeout bounds subprocess start plus the MCP handshake.
const DefaultStdioInitTimeout = 30 * time.Second

// StdioClient implements the MCPClient interface over a child process with
// newline-framed JSON-RPC on its stdin/stdout. Unlike the remote clients it
// owns a process group, which Close terminates.
type StdioClient struct {
	opts stdio.Options

	mu      sync.RWMutex
	session *stdio.Session
}

// NewStdioClient creates a new stdio-based MCP client. The subprocess is not
// spawned until Initialize.
func NewStdioClient(command string, args []string, env map[string]string, cwd string) *StdioClient {
	return &StdioClient{
		opts: stdio.Options{
			Command: command,
			Args:    args,
			Env:     env,
			Cwd:     cwd,
		},
	}
}

// Initialize spawns the subprocess and performs the protocol handshake.
func (c *StdioClient) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		return nil
	}

	logging.Debug("StdioClient", "Starting stdio session for command: %s %v", c.opts.Command, c.opts.Args)

	session, err := stdio.Start(c.opts)
	if err != nil {
		return fmt.Errorf("failed to start stdio session: %w", err)
	}

	initCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		initCtx, cancel = context.WithTimeout(ctx, DefaultStdioInitTimeout)
		defer cancel()
	}

	if err := session.Initialize(initCtx); err != nil {
		logging.Error("StdioClient", err, "Failed to initialize MCP protocol for %s", c.opts.Command)
		_ = session.Close()
		return fmt.Errorf("failed to initialize MCP protocol: %w", err)
	}

	c.session = session
	return nil
}

func (c *StdioClient) activeSession() (*stdio.Session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return nil, fmt.Errorf("client not connected")
	}
	return c.session, nil
}

// Close terminates the session and the child process group. Idempotent.
func (c *StdioClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	return err
}

// ListTools returns all available tools from the server
func (c *StdioClient) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	session, err := c.activeSession()
	if err != nil {
		return nil, err
	}
	return session.ListTools(ctx)
}

// CallTool executes a specific tool and returns the result
func (c *StdioClient) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	session, err := c.activeSession()
	if err != nil {
		return nil, err
	}
	return session.CallTool(ctx, name, args)
}

// Ping probes the server with a bounded tools/list exchange.
func (c *StdioClient) Ping(ctx context.Context) error {
	session, err := c.activeSession()
	if err != nil {
		return err
	}
	if !session.Healthy(ctx) {
		return fmt.Errorf("stdio session unhealthy")
	}
	return nil
}

// StderrTail returns the most recent stderr lines of the subprocess, used to
// surface startup failures in status details.
func (c *StdioClient) StderrTail() []string {
	session, err := c.activeSession()
	if err != nil {
		return nil
	}
	return session.StderrTail()
}
