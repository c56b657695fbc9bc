// Package app wires the federation together: config loading, the client
// registry, the status cache, the poller, the config watcher and the
// aggregator facade, with one lifecycle for all of them.
package app

import (
	"context"
	"sync"
	"time"

	"toolgate/internal/aggregator"
	"toolgate/internal/api"
	"toolgate/internal/config"
	"toolgate/internal/managed"
	"toolgate/internal/mcpclient"
	"toolgate/internal/metrics"
	"toolgate/internal/poller"
	"toolgate/internal/registry"
	"toolgate/internal/statuscache"
	"toolgate/internal/uploads"
	"toolgate/internal/watcher"
	"toolgate/pkg/logging"
)

// ShutdownBudget caps the total shutdown time. Servers that do not close in
// time are abandoned; a stdio child is force-killed by its own close path.
const ShutdownBudget = 10 * time.Second

// Options configures a Manager.
type Options struct {
	// ConfigPath is the config document location. Empty selects
	// config.ConfigFilePath().
	ConfigPath string
	// RedisURL enables the status cache when non-empty.
	RedisURL string
	// UploadsDir, when non-empty, persists binary tool content there.
	UploadsDir string
	// PollInterval overrides the poller cadence; zero keeps the default.
	PollInterval time.Duration
	// Sink receives execution and connection records; nil selects Noop.
	Sink metrics.Sink
	// Facade, when set, serves the aggregated tool set over MCP.
	Facade *aggregator.ServerOptions
	// WatchConfig enables the fsnotify hot-reload path.
	WatchConfig bool
	// ClientFactory overrides transport construction, used by tests.
	ClientFactory func(config.Transport) (mcpclient.MCPClient, error)
}

// Manager owns the whole federation lifecycle.
type Manager struct {
	opts Options

	cache      *statuscache.Cache
	registry   *registry.Registry
	aggregator *aggregator.Aggregator
	facade     *aggregator.Server
	poller     *poller.Poller
	watcher    *watcher.Watcher

	// reloadMu serializes config applications from the poller, the watcher
	// and explicit ReloadConfig calls. shutDown, set under reloadMu, makes
	// the registry drain final: a reload racing Shutdown cannot re-register
	// servers.
	reloadMu sync.Mutex
	shutDown bool

	cancel context.CancelFunc
}

// NewManager builds the component graph without starting anything.
func NewManager(opts Options) *Manager {
	if opts.ConfigPath == "" {
		opts.ConfigPath = config.ConfigFilePath()
	}
	if opts.Sink == nil {
		opts.Sink = metrics.Noop{}
	}

	cache := statuscache.New(opts.RedisURL)

	managedOpts := managed.Options{
		Sink:          opts.Sink,
		Cache:         cache,
		ClientFactory: opts.ClientFactory,
	}
	if store := uploads.New(opts.UploadsDir); store.Enabled() {
		managedOpts.Uploads = store
	}
	reg := registry.New(managedOpts)
	agg := aggregator.New(reg, opts.Sink)

	m := &Manager{
		opts:       opts,
		cache:      cache,
		registry:   reg,
		aggregator: agg,
	}

	m.poller = poller.New(reg, cache, m.ReloadConfig, opts.PollInterval)
	if opts.WatchConfig {
		m.watcher = watcher.New(opts.ConfigPath, 0, func(ctx context.Context, app config.AppConfig) {
			m.apply(ctx, app)
		})
	}
	if opts.Facade != nil {
		m.facade = aggregator.NewServer(agg, *opts.Facade)
	}
	return m
}

// Registry exposes the client registry, mainly for status endpoints.
func (m *Manager) Registry() *registry.Registry {
	return m.registry
}

// Aggregator exposes the tool aggregation and invocation surface.
func (m *Manager) Aggregator() *aggregator.Aggregator {
	return m.aggregator
}

// Initialize loads the config, registers every server (their connections
// proceed in the background) and starts the poller, the watcher and the
// facade.
func (m *Manager) Initialize(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel

	app := config.LoadAppConfig(m.opts.ConfigPath)
	m.apply(runCtx, app)

	m.poller.Start(runCtx)
	if m.watcher != nil {
		if err := m.watcher.Start(runCtx); err != nil {
			logging.Warn("Manager", "Config watcher unavailable: %v", err)
		}
	}
	if m.facade != nil {
		if err := m.facade.Start(runCtx); err != nil {
			return err
		}
	}

	logging.Info("Manager", "Initialized with %d configured servers", len(app.MCPServers))
	return nil
}

// ReloadConfig re-reads the config document and reconciles the registry.
func (m *Manager) ReloadConfig(ctx context.Context) error {
	app := config.LoadAppConfig(m.opts.ConfigPath)
	m.apply(ctx, app)
	return nil
}

// apply reconciles the registry against a config snapshot. Applications are
// serialized so overlapping reload sources cannot interleave.
func (m *Manager) apply(ctx context.Context, app config.AppConfig) {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()
	if m.shutDown {
		return
	}

	result := m.registry.DiffAndApply(ctx, app.MCPServers)

	for _, key := range result.Removed {
		m.cache.Put(ctx, api.ManagedServerInfo{
			Key:    key,
			Status: api.StatusUninitialized,
			Tools:  []api.ToolDescriptor{},
		})
	}
	if m.facade != nil {
		m.facade.SyncTools(ctx)
	}
}

// GetManagedServersInfo returns the status snapshot of every configured
// server. Live clients report their in-process state; keys without a live
// client fall back to the shared status cache so a read-only process still
// sees what the managing process last published.
func (m *Manager) GetManagedServersInfo(ctx context.Context) []api.ManagedServerInfo {
	keys := m.registry.Keys()
	infos := make([]api.ManagedServerInfo, 0, len(keys))

	for _, key := range keys {
		if _, live := m.registry.Get(key); live {
			infos = append(infos, m.registry.Info(key))
			continue
		}
		info := m.registry.Info(key)
		if info.Status == api.StatusUninitialized && m.cache.Enabled() {
			info = m.cache.Get(ctx, key)
		}
		infos = append(infos, info)
	}
	return infos
}

// InvokeTool executes an aggregated tool through the invocation wrapper.
func (m *Manager) InvokeTool(ctx context.Context, exposedName string, args map[string]interface{}) interface{} {
	return m.aggregator.Invoke(ctx, exposedName, args)
}

// Shutdown tears everything down: stop the reload sources, drain the
// registry (which closes every transport) and release the cache. The whole
// sequence is bounded by ShutdownBudget.
func (m *Manager) Shutdown(ctx context.Context) {
	logging.Info("Manager", "Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownBudget)
	defer cancel()

	if m.watcher != nil {
		m.watcher.Stop()
	}
	m.poller.Stop()

	if m.facade != nil {
		_ = m.facade.Stop(shutdownCtx)
	}

	m.reloadMu.Lock()
	m.shutDown = true
	m.registry.DiffAndApply(shutdownCtx, map[string]config.ServerConfig{})
	m.reloadMu.Unlock()

	if m.cancel != nil {
		m.cancel()
	}
	m.cache.Close()
	logging.Info("Manager", "Shutdown complete")
}
