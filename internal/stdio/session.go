package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"toolgate/pkg/logging"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
)

// Timeouts for the stdio protocol phases.
const (
	// InitTimeout bounds the initialize/initialized handshake.
	InitTimeout = 30 * time.Second
	// CallTimeout bounds a single tools/call round trip.
	CallTimeout = 90 * time.Second
	// CloseGrace is how long a child gets to exit after SIGTERM before
	// the process group is killed.
	CloseGrace = 5 * time.Second
)

// stderrTailLines is how many trailing stderr lines are retained for
// diagnostics.
const stderrTailLines = 20

// Options configures a stdio session.
type Options struct {
	Command string
	Args    []string
	Env     map[string]string
	Cwd     string
}

// ChildEnv converts per-server variables into the KEY=VALUE slice appended
// to the child's inherited environment. On Linux, registry and TLS knobs for
// npm-packaged servers are pinned so npx-launched children behave the same
// across hosts.
func ChildEnv(extra map[string]string) []string {
	var env []string
	if runtime.GOOS == "linux" {
		env = append(env,
			"NODE_TLS_REJECT_UNAUTHORIZED=0",
			"NPM_CONFIG_REGISTRY=https://registry.npmjs.org/",
		)
	}
	for k, v := range extra {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      string      `json:"id,omitempty"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// Session is one newline-framed JSON-RPC 2.0 exchange with a child MCP
// server over its stdin/stdout. Requests are correlated to responses by id;
// responses with unknown ids are dropped. Close rejects all outstanding
// waiters.
type Session struct {
	opts Options
	cmd  *exec.Cmd

	stdin io.WriteCloser

	mu       sync.Mutex
	waiters  map[string]chan *rpcResponse
	closed   bool
	procErr  error
	initDone bool

	stderrMu   sync.Mutex
	stderrTail []string

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Start spawns the child process and begins reading its stdout. The MCP
// handshake is not performed until Initialize.
func Start(opts Options) (*Session, error) {
	cmd := exec.Command(opts.Command, opts.Args...)
	cmd.Env = append(os.Environ(), ChildEnv(opts.Env)...)
	if opts.Cwd != "" {
		cmd.Dir = opts.Cwd
	}
	// Own process group so Close can signal the whole tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", opts.Command, err)
	}

	s := &Session{
		opts:    opts,
		cmd:     cmd,
		stdin:   stdin,
		waiters: make(map[string]chan *rpcResponse),
		done:    make(chan struct{}),
	}

	s.wg.Add(2)
	go s.readLoop(stdout)
	go s.stderrLoop(stderr)

	go func() {
		// Reap only after both pipe readers have drained; Wait closes the
		// pipes and must not race the readers.
		s.wg.Wait()
		err := cmd.Wait()
		s.mu.Lock()
		if s.procErr == nil {
			s.procErr = err
		}
		s.mu.Unlock()
		if err != nil {
			logging.Debug("StdioSession", "Process %s exited: %v", opts.Command, err)
		}
	}()

	return s, nil
}

// readLoop consumes stdout line by line, parses complete JSON-RPC messages,
// and dispatches them to the registered waiter. Partial lines are buffered
// by the reader; malformed lines are skipped.
func (s *Session) readLoop(stdout io.Reader) {
	defer s.wg.Done()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var resp rpcResponse
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			logging.Debug("StdioSession", "Skipping non-JSON line from %s", s.opts.Command)
			continue
		}
		if resp.ID == "" {
			// Server notification; nothing correlates to it.
			continue
		}

		s.mu.Lock()
		waiter, ok := s.waiters[resp.ID]
		if ok {
			delete(s.waiters, resp.ID)
		}
		s.mu.Unlock()

		if ok {
			waiter <- &resp
		}
	}

	// Stdout closed: the process is gone, fail everything still waiting.
	s.failAllWaiters()
}

func (s *Session) stderrLoop(stderr io.Reader) {
	defer s.wg.Done()

	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		s.stderrMu.Lock()
		s.stderrTail = append(s.stderrTail, line)
		if len(s.stderrTail) > stderrTailLines {
			s.stderrTail = s.stderrTail[len(s.stderrTail)-stderrTailLines:]
		}
		s.stderrMu.Unlock()
		logging.Debug("StdioSession", "[%s stderr] %s", s.opts.Command, line)
	}
}

// StderrTail returns the most recent stderr lines of the child.
func (s *Session) StderrTail() []string {
	s.stderrMu.Lock()
	defer s.stderrMu.Unlock()
	out := make([]string, len(s.stderrTail))
	copy(out, s.stderrTail)
	return out
}

// fatalStderrPatterns mark a child as unhealthy regardless of probe results.
var fatalStderrPatterns = []string{"fatal", "cannot start", "permission denied"}

// stderrLooksFatal reports whether the stderr tail contains a pattern that
// indicates the child cannot serve requests.
func (s *Session) stderrLooksFatal() bool {
	for _, line := range s.StderrTail() {
		lower := strings.ToLower(line)
		for _, pattern := range fatalStderrPatterns {
			if strings.Contains(lower, pattern) {
				return true
			}
		}
	}
	return false
}

func (s *Session) failAllWaiters() {
	s.mu.Lock()
	waiters := s.waiters
	s.waiters = make(map[string]chan *rpcResponse)
	s.mu.Unlock()

	for _, ch := range waiters {
		close(ch)
	}
}

func (s *Session) send(msg rpcRequest) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("session closed")
	}
	if _, err := s.stdin.Write(data); err != nil {
		return fmt.Errorf("failed to write to %s: %w", s.opts.Command, err)
	}
	return nil
}

// roundTrip sends a request and waits for the correlated response.
func (s *Session) roundTrip(ctx context.Context, req rpcRequest) (json.RawMessage, error) {
	waiter := make(chan *rpcResponse, 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("session closed")
	}
	s.waiters[req.ID] = waiter
	s.mu.Unlock()

	if err := s.send(req); err != nil {
		s.mu.Lock()
		delete(s.waiters, req.ID)
		s.mu.Unlock()
		return nil, err
	}

	select {
	case resp, ok := <-waiter:
		if !ok {
			return nil, fmt.Errorf("session aborted while waiting for %s", req.Method)
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("%s", resp.Error.Message)
		}
		return resp.Result, nil
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.waiters, req.ID)
		s.mu.Unlock()
		return nil, ctx.Err()
	case <-s.done:
		return nil, fmt.Errorf("session closed while waiting for %s", req.Method)
	}
}

// Initialize performs the MCP handshake: an initialize request with id
// "init", then a notifications/initialized notification. It is a no-op when
// the handshake already completed.
func (s *Session) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.initDone {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	initCtx, cancel := context.WithTimeout(ctx, InitTimeout)
	defer cancel()

	_, err := s.roundTrip(initCtx, rpcRequest{
		JSONRPC: "2.0",
		ID:      "init",
		Method:  "initialize",
		Params: map[string]interface{}{
			"protocolVersion": "2024-11-05",
			"capabilities":    map[string]interface{}{"tools": map[string]interface{}{}},
			"clientInfo": map[string]interface{}{
				"name":    "toolgate",
				"version": "1.0.0",
			},
		},
	})
	if err != nil {
		return fmt.Errorf("initialize failed: %w", err)
	}

	if err := s.send(rpcRequest{
		JSONRPC: "2.0",
		Method:  "notifications/initialized",
		Params:  map[string]interface{}{},
	}); err != nil {
		return fmt.Errorf("initialized notification failed: %w", err)
	}

	s.mu.Lock()
	s.initDone = true
	s.mu.Unlock()
	return nil
}

// ListTools issues a tools/list request and returns the advertised tools.
func (s *Session) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	raw, err := s.roundTrip(ctx, rpcRequest{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  "tools/list",
		Params:  map[string]interface{}{},
	})
	if err != nil {
		return nil, err
	}

	var result struct {
		Tools []mcp.Tool `json:"tools"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("malformed tools/list result: %w", err)
	}
	return result.Tools, nil
}

// CallTool issues a tools/call request with a fresh id and parses the
// CallToolResult. The call is bounded by CallTimeout unless the caller's
// context expires first.
func (s *Session) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, CallTimeout)
	defer cancel()

	if args == nil {
		args = map[string]interface{}{}
	}

	raw, err := s.roundTrip(callCtx, rpcRequest{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  "tools/call",
		Params: map[string]interface{}{
			"name":      name,
			"arguments": args,
		},
	})
	if err != nil {
		return nil, err
	}

	result := &mcp.CallToolResult{}
	if err := parseCallToolResult(raw, result); err != nil {
		return nil, fmt.Errorf("malformed tools/call result: %w", err)
	}
	return result, nil
}

// Healthy reports whether the child looks able to serve requests: its stderr
// has not signalled a fatal condition and a tools/list probe answers within
// the deadline.
func (s *Session) Healthy(ctx context.Context) bool {
	if s.stderrLooksFatal() {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := s.ListTools(probeCtx)
	return err == nil
}

// Close terminates the session: SIGTERM to the process group, SIGKILL after
// the grace period, then pipes drained. Outstanding waiters are rejected.
// Close is idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
		s.failAllWaiters()

		_ = s.stdin.Close()

		if s.cmd.Process != nil {
			pgid := s.cmd.Process.Pid
			// Negative pid signals the whole process group.
			_ = syscall.Kill(-pgid, syscall.SIGTERM)

			exited := make(chan struct{})
			go func() {
				s.wg.Wait()
				close(exited)
			}()

			select {
			case <-exited:
			case <-time.After(CloseGrace):
				logging.Warn("StdioSession", "Process %s did not exit after SIGTERM, killing", s.opts.Command)
				_ = syscall.Kill(-pgid, syscall.SIGKILL)
			}
		}
	})
	return nil
}

// parseCallToolResult decodes a raw tools/call result. Content parts are
// decoded by their type discriminator; unknown parts are preserved as text.
func parseCallToolResult(raw json.RawMessage, out *mcp.CallToolResult) error {
	var envelope struct {
		Content []json.RawMessage `json:"content"`
		IsError bool              `json:"isError"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return err
	}
	out.IsError = envelope.IsError

	for _, part := range envelope.Content {
		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(part, &head); err != nil {
			continue
		}
		switch head.Type {
		case "text":
			var tc mcp.TextContent
			if err := json.Unmarshal(part, &tc); err == nil {
				out.Content = append(out.Content, tc)
			}
		case "image":
			var ic mcp.ImageContent
			if err := json.Unmarshal(part, &ic); err == nil {
				out.Content = append(out.Content, ic)
			}
		default:
			out.Content = append(out.Content, mcp.TextContent{Type: "text", Text: string(part)})
		}
	}
	return nil
}
