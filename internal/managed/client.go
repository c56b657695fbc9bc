// Package managed implements the manager-side owner of one MCP server: it
// builds the transport, drives initialization with retries, tracks status,
// and gates tool invocations behind a circuit breaker.
package managed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"toolgate/internal/api"
	"toolgate/internal/config"
	"toolgate/internal/mcpclient"
	"toolgate/internal/metrics"
	"toolgate/internal/statuscache"
	"toolgate/pkg/logging"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/singleflight"
)

// Initialization and operation defaults. Retry counts are retries after the
// initial attempt, so the default is three attempts total.
const (
	DefaultMaxRetries        = 2
	DefaultBaseDelay         = time.Second
	DefaultMaxDelay          = 10 * time.Second
	DefaultBackoffMultiplier = 2.0

	// DefaultInitTimeout bounds one transport build plus handshake attempt.
	DefaultInitTimeout = 30 * time.Second
	// DefaultCallTimeout bounds one tool invocation.
	DefaultCallTimeout = 90 * time.Second
	// HealthTimeout bounds a health probe.
	HealthTimeout = 5 * time.Second
)

// Options configures collaborators of a managed client.
type Options struct {
	// Sink receives connection and execution records; nil selects Noop.
	Sink metrics.Sink
	// Cache, when set, receives status projections on every transition.
	Cache *statuscache.Cache
	// Uploads, when set, persists binary tool content instead of inlining
	// a marker.
	Uploads mcpclient.ImageSaver
	// ClientFactory overrides transport construction, used by tests.
	ClientFactory func(config.Transport) (mcpclient.MCPClient, error)
}

// Client owns exactly one transport for one server config. Construction
// never blocks: initialization runs in the background and Status, Tools,
// Invoke and Close all wait on the same completion barrier.
type Client struct {
	key       string
	cfg       config.ServerConfig
	sink      metrics.Sink
	cache     *statuscache.Cache
	uploads   mcpclient.ImageSaver
	newClient func(config.Transport) (mcpclient.MCPClient, error)

	mu           sync.RWMutex
	status       api.ServerStatus
	errorDetails string
	tools        []mcp.Tool
	transport    mcpclient.MCPClient
	closed       bool

	breaker *Breaker

	initDone chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc

	closeOnce sync.Once
	refresh   singleflight.Group
}

// NewClient creates the client and schedules initialization in the
// background. cfg must be normalized and enabled; validation failures are
// the registry's concern.
func NewClient(key string, cfg config.ServerConfig, opts Options) *Client {
	if opts.Sink == nil {
		opts.Sink = metrics.Noop{}
	}
	if opts.ClientFactory == nil {
		opts.ClientFactory = mcpclient.New
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		key:       key,
		cfg:       cfg,
		sink:      opts.Sink,
		cache:     opts.Cache,
		uploads:   opts.Uploads,
		newClient: opts.ClientFactory,
		status:    api.StatusInitializing,
		breaker:   NewBreaker(DefaultFailureThreshold, DefaultResetTimeout),
		initDone:  make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}

	go c.initialize()
	return c
}

// Key returns the server key this client manages.
func (c *Client) Key() string {
	return c.key
}

// Config returns the normalized server config this client was built from.
func (c *Client) Config() config.ServerConfig {
	return c.cfg
}

// retryPlan resolves the retry settings, falling back to the defaults for
// any zero field.
func (c *Client) retryPlan() (attempts int, base, max time.Duration, mult float64) {
	retries := DefaultMaxRetries
	base = DefaultBaseDelay
	max = DefaultMaxDelay
	mult = DefaultBackoffMultiplier

	if r := c.cfg.Retry; r != nil {
		if r.MaxRetries > 0 {
			retries = r.MaxRetries
		}
		if r.BaseDelayMs > 0 {
			base = time.Duration(r.BaseDelayMs) * time.Millisecond
		}
		if r.MaxDelayMs > 0 {
			max = time.Duration(r.MaxDelayMs) * time.Millisecond
		}
		if r.BackoffMultiplier > 0 {
			mult = r.BackoffMultiplier
		}
	}
	return retries + 1, base, max, mult
}

func (c *Client) initTimeout() time.Duration {
	if c.cfg.TimeoutMs > 0 {
		return time.Duration(c.cfg.TimeoutMs) * time.Millisecond
	}
	return DefaultInitTimeout
}

// backoffDelay computes min(base * mult^(attempt-1), max) for a 1-based
// attempt number.
func backoffDelay(base, max time.Duration, mult float64, attempt int) time.Duration {
	delay := base
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * mult)
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

// initialize drives the retry loop and settles the completion barrier.
func (c *Client) initialize() {
	defer close(c.initDone)

	attempts, base, max, mult := c.retryPlan()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if c.ctx.Err() != nil {
			c.setStatus(api.StatusError, "initialization aborted")
			return
		}

		err := c.connectOnce()
		if err == nil {
			c.sink.RecordConnectionAttempt(c.key, true)
			c.publish()
			return
		}
		lastErr = err
		c.sink.RecordConnectionAttempt(c.key, false)
		logging.Warn("ManagedClient", "Attempt %d/%d failed for %s: %v", attempt, attempts, c.key, err)

		if attempt < attempts {
			delay := backoffDelay(base, max, mult, attempt)
			select {
			case <-time.After(delay):
			case <-c.ctx.Done():
				c.setStatus(api.StatusError, "initialization aborted")
				return
			}
		}
	}

	c.setStatus(api.StatusError, lastErr.Error())
	c.publish()
	logging.Error("ManagedClient", lastErr, "Giving up on %s after %d attempts", c.key, attempts)
}

// connectOnce builds the transport, performs the handshake, and discovers
// the tool catalog. On failure the transport is torn down again.
func (c *Client) connectOnce() error {
	transport, err := c.newClient(*c.cfg.Transport)
	if err != nil {
		return kinded(api.ErrKindConfigInvalid, "invalid transport: %v", err)
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.initTimeout())
	defer cancel()

	if err := transport.Initialize(ctx); err != nil {
		_ = transport.Close()
		return kinded(api.ErrKindConnection, "connect failed: %v", err)
	}

	tools, err := transport.ListTools(ctx)
	if err != nil {
		_ = transport.Close()
		return kinded(api.ErrKindConnection, "tool discovery failed: %v", err)
	}

	status := api.StatusConnected
	if len(tools) == 0 {
		status = api.StatusNoToolsFound
	}

	c.mu.Lock()
	c.transport = transport
	c.tools = tools
	c.status = status
	c.errorDetails = ""
	c.mu.Unlock()

	logging.Info("ManagedClient", "Server %s connected with %d tools", c.key, len(tools))
	return nil
}

func (c *Client) setStatus(status api.ServerStatus, details string) {
	c.mu.Lock()
	c.status = status
	c.errorDetails = details
	c.mu.Unlock()
}

// publish writes the current projection to the status cache, if attached.
func (c *Client) publish() {
	if c.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c.cache.Put(ctx, c.Info())
}

// waitReady blocks until initialization settles or the caller's context
// expires.
func (c *Client) waitReady(ctx context.Context) error {
	select {
	case <-c.initDone:
		return nil
	case <-ctx.Done():
		return kinded(api.ErrKindAborted, "wait for %s interrupted: %v", c.key, ctx.Err())
	}
}

// Status waits for any in-flight initialization and returns the settled
// status. Multiple concurrent callers share the same barrier.
func (c *Client) Status(ctx context.Context) (api.ServerStatus, error) {
	if err := c.waitReady(ctx); err != nil {
		return api.StatusInitializing, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status, nil
}

// Tools returns the discovered catalog. Clients that are not connected
// expose no tools.
func (c *Client) Tools(ctx context.Context) ([]mcp.Tool, error) {
	if err := c.waitReady(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.status != api.StatusConnected {
		return nil, nil
	}
	out := make([]mcp.Tool, len(c.tools))
	copy(out, c.tools)
	return out, nil
}

// Invoke dispatches one tool call. It refuses unless the client is
// connected, passes the circuit breaker, and returns the collapsed result
// value. Failures carry a taxonomy kind.
func (c *Client) Invoke(ctx context.Context, toolName string, args map[string]interface{}) (interface{}, error) {
	if err := c.waitReady(ctx); err != nil {
		return nil, err
	}

	c.mu.RLock()
	status := c.status
	transport := c.transport
	closed := c.closed
	c.mu.RUnlock()

	if closed {
		return nil, kinded(api.ErrKindAborted, "server %s is shut down", c.key)
	}
	if status != api.StatusConnected {
		return nil, kinded(api.ErrKindConnection, "server %s is not connected (status: %s)", c.key, status)
	}
	if !c.breaker.Allow() {
		return nil, kinded(api.ErrKindCircuitOpen, "circuit breaker open for %s", c.key)
	}

	callCtx, cancel := context.WithTimeout(ctx, DefaultCallTimeout)
	defer cancel()

	result, err := transport.CallTool(callCtx, toolName, args)
	if err != nil {
		c.breaker.RecordFailure()
		if callCtx.Err() == context.DeadlineExceeded {
			return nil, kinded(api.ErrKindTimeout, "tool %s timed out on %s", toolName, c.key)
		}
		if ctx.Err() == context.Canceled {
			return nil, kinded(api.ErrKindAborted, "tool %s aborted on %s", toolName, c.key)
		}
		return nil, kinded(api.ErrKindConnection, "tool %s failed on %s: %v", toolName, c.key, err)
	}

	if result.IsError {
		c.breaker.RecordFailure()
		return nil, kinded(api.ErrKindExecution, "%s", mcpclient.StringifyContent(result))
	}

	c.breaker.RecordSuccess()
	return mcpclient.CollapseContentWith(result, c.uploads), nil
}

// HealthCheck probes the transport. It returns true iff the server answers
// within the health timeout.
func (c *Client) HealthCheck(ctx context.Context) bool {
	if err := c.waitReady(ctx); err != nil {
		return false
	}

	c.mu.RLock()
	transport := c.transport
	status := c.status
	c.mu.RUnlock()

	if transport == nil || (status != api.StatusConnected && status != api.StatusNoToolsFound) {
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, HealthTimeout)
	defer cancel()
	return transport.Ping(probeCtx) == nil
}

// RefreshStatus re-enumerates the catalog of a connected server and returns
// the updated projection. Concurrent refreshes for the same client collapse
// into one probe.
func (c *Client) RefreshStatus(ctx context.Context) api.ManagedServerInfo {
	info, _, _ := c.refresh.Do("refresh", func() (interface{}, error) {
		if err := c.waitReady(ctx); err != nil {
			return c.Info(), nil
		}

		c.mu.RLock()
		transport := c.transport
		status := c.status
		c.mu.RUnlock()

		if transport == nil || (status != api.StatusConnected && status != api.StatusNoToolsFound) {
			return c.Info(), nil
		}

		probeCtx, cancel := context.WithTimeout(ctx, HealthTimeout)
		defer cancel()

		tools, err := transport.ListTools(probeCtx)
		if err != nil {
			c.breaker.RecordFailure()
			// A server in error advertises no tools.
			c.mu.Lock()
			c.tools = nil
			c.mu.Unlock()
			c.setStatus(api.StatusError, fmt.Sprintf("status refresh failed: %v", err))
			return c.Info(), nil
		}

		c.breaker.RecordSuccess()
		newStatus := api.StatusConnected
		if len(tools) == 0 {
			newStatus = api.StatusNoToolsFound
		}
		c.mu.Lock()
		c.tools = tools
		c.status = newStatus
		c.errorDetails = ""
		c.mu.Unlock()
		return c.Info(), nil
	})
	return info.(api.ManagedServerInfo)
}

// Info returns the current status projection without waiting for
// initialization to settle.
func (c *Client) Info() api.ManagedServerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return api.ManagedServerInfo{
		Key:           c.key,
		Label:         c.cfg.Label,
		Status:        c.status,
		Tools:         ToolDescriptors(c.tools),
		ErrorDetails:  c.errorDetails,
		TransportType: c.cfg.TransportTypeName(),
	}
}

// Breaker exposes the circuit breaker for observability.
func (c *Client) Breaker() *Breaker {
	return c.breaker
}

// Close shuts the client down: it waits for any in-flight initialization to
// settle so the transport (and a stdio child process) is not leaked, then
// closes the transport. Close is idempotent.
func (c *Client) Close(ctx context.Context) error {
	var closeErr error
	c.closeOnce.Do(func() {
		c.cancel()

		select {
		case <-c.initDone:
		case <-ctx.Done():
			logging.Warn("ManagedClient", "Close of %s proceeding before initialization settled", c.key)
		}

		c.mu.Lock()
		transport := c.transport
		c.transport = nil
		c.closed = true
		c.status = api.StatusDisabled
		c.tools = nil
		c.mu.Unlock()

		if transport != nil {
			closeErr = transport.Close()
		}
		logging.Debug("ManagedClient", "Closed %s", c.key)
	})
	return closeErr
}

// ToolDescriptors converts mcp tools into the cacheable projection.
func ToolDescriptors(tools []mcp.Tool) []api.ToolDescriptor {
	out := make([]api.ToolDescriptor, 0, len(tools))
	for _, tool := range tools {
		out = append(out, api.ToolDescriptor{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schemaToMap(tool),
		})
	}
	return out
}

// schemaToMap renders the advertised input schema as a raw JSON object. A
// tool that advertises no schema yields nil; the aggregator substitutes the
// empty object schema when exposing it.
func schemaToMap(tool mcp.Tool) map[string]interface{} {
	var raw []byte
	var err error
	if len(tool.RawInputSchema) > 0 {
		raw = tool.RawInputSchema
	} else {
		if tool.InputSchema.Type == "" && len(tool.InputSchema.Properties) == 0 {
			return nil
		}
		raw, err = json.Marshal(tool.InputSchema)
		if err != nil {
			return nil
		}
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
