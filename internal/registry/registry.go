// Package registry tracks the set of managed MCP clients keyed by server
// name and reconciles it against configuration snapshots.
package registry

import (
	"context"
	"sort"
	"sync"

	"toolgate/internal/api"
	"toolgate/internal/config"
	"toolgate/internal/managed"
	"toolgate/pkg/logging"
)

// Registry owns all managed clients. Mutations for the same key are
// serialized through a per-key lock so a slow Close can never race a
// re-Register of the same server.
type Registry struct {
	opts managed.Options

	mu           sync.RWMutex
	clients      map[string]*managed.Client
	placeholders map[string]api.ManagedServerInfo
	configs      map[string]config.ServerConfig

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// New creates an empty registry. opts is handed to every managed client the
// registry constructs.
func New(opts managed.Options) *Registry {
	return &Registry{
		opts:         opts,
		clients:      map[string]*managed.Client{},
		placeholders: map[string]api.ManagedServerInfo{},
		configs:      map[string]config.ServerConfig{},
		locks:        map[string]*sync.Mutex{},
	}
}

// keyLock returns the mutation lock for one server key.
func (r *Registry) keyLock(key string) *sync.Mutex {
	r.lockMu.Lock()
	defer r.lockMu.Unlock()
	l, ok := r.locks[key]
	if !ok {
		l = &sync.Mutex{}
		r.locks[key] = l
	}
	return l
}

// Register installs a server under key. cfg must be normalized. A disabled
// config yields a disabled placeholder, an invalid one an error placeholder;
// otherwise a managed client is created and starts connecting in the
// background. An existing entry under the same key is closed first.
func (r *Registry) Register(ctx context.Context, key string, cfg config.ServerConfig) {
	lock := r.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	r.closeExisting(ctx, key)

	switch {
	case !cfg.IsEnabled():
		logging.Debug("Registry", "Server %s is disabled", key)
		r.setPlaceholder(key, cfg, api.ManagedServerInfo{
			Key:           key,
			Label:         cfg.Label,
			Status:        api.StatusDisabled,
			Tools:         []api.ToolDescriptor{},
			TransportType: cfg.TransportTypeName(),
		})
	case config.Validate(cfg) != nil:
		err := config.Validate(cfg)
		logging.Warn("Registry", "Server %s has an invalid config: %v", key, err)
		r.setPlaceholder(key, cfg, api.ManagedServerInfo{
			Key:           key,
			Label:         cfg.Label,
			Status:        api.StatusError,
			Tools:         []api.ToolDescriptor{},
			ErrorDetails:  err.Error(),
			TransportType: cfg.TransportTypeName(),
		})
	default:
		client := managed.NewClient(key, cfg, r.opts)
		r.mu.Lock()
		r.clients[key] = client
		r.configs[key] = cfg
		r.mu.Unlock()
		logging.Info("Registry", "Registered server %s (%s)", key, cfg.TransportTypeName())
	}
}

func (r *Registry) setPlaceholder(key string, cfg config.ServerConfig, info api.ManagedServerInfo) {
	r.mu.Lock()
	r.placeholders[key] = info
	r.configs[key] = cfg
	r.mu.Unlock()
}

// closeExisting removes any current entry for key. Caller holds the key lock.
func (r *Registry) closeExisting(ctx context.Context, key string) {
	r.mu.Lock()
	client := r.clients[key]
	delete(r.clients, key)
	delete(r.placeholders, key)
	delete(r.configs, key)
	r.mu.Unlock()

	if client != nil {
		if err := client.Close(ctx); err != nil {
			logging.Warn("Registry", "Error closing server %s: %v", key, err)
		}
	}
}

// Remove closes and forgets a server. Removing an unknown key is a no-op.
func (r *Registry) Remove(ctx context.Context, key string) {
	lock := r.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	r.closeExisting(ctx, key)
	logging.Debug("Registry", "Removed server %s", key)
}

// Get returns the live managed client for key, if one exists. Placeholders
// have no client.
func (r *Registry) Get(key string) (*managed.Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[key]
	return c, ok
}

// Config returns the registered config for key.
func (r *Registry) Config(key string) (config.ServerConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[key]
	return cfg, ok
}

// Info returns the status projection for key, live or placeholder. Unknown
// keys yield an uninitialized projection.
func (r *Registry) Info(key string) api.ManagedServerInfo {
	r.mu.RLock()
	client, live := r.clients[key]
	info, held := r.placeholders[key]
	r.mu.RUnlock()

	if live {
		return client.Info()
	}
	if held {
		return info
	}
	return api.ManagedServerInfo{
		Key:    key,
		Status: api.StatusUninitialized,
		Tools:  []api.ToolDescriptor{},
	}
}

// Keys returns all registered server keys, live and placeholder, sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.configs))
	for key := range r.configs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Clients returns a snapshot of the live clients.
func (r *Registry) Clients() map[string]*managed.Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]*managed.Client, len(r.clients))
	for key, client := range r.clients {
		out[key] = client
	}
	return out
}

// DiffResult names the keys touched by one reconciliation pass.
type DiffResult struct {
	Added   []string
	Removed []string
	Updated []string
}

// DiffAndApply reconciles the registry against a desired config snapshot.
// Servers absent from desired are removed, new keys are registered, and keys
// whose config changed significantly are rebuilt. Unchanged servers keep
// their live connection. The pass is idempotent.
func (r *Registry) DiffAndApply(ctx context.Context, desired map[string]config.ServerConfig) DiffResult {
	r.mu.RLock()
	current := make(map[string]config.ServerConfig, len(r.configs))
	for key, cfg := range r.configs {
		current[key] = cfg
	}
	r.mu.RUnlock()

	var result DiffResult

	for key := range current {
		if _, ok := desired[key]; !ok {
			r.Remove(ctx, key)
			result.Removed = append(result.Removed, key)
		}
	}

	for key, cfg := range desired {
		old, existed := current[key]
		switch {
		case !existed:
			r.Register(ctx, key, cfg)
			result.Added = append(result.Added, key)
		case config.SignificantlyChanged(old, cfg):
			r.Register(ctx, key, cfg)
			result.Updated = append(result.Updated, key)
		}
	}

	sort.Strings(result.Added)
	sort.Strings(result.Removed)
	sort.Strings(result.Updated)

	if len(result.Added)+len(result.Removed)+len(result.Updated) > 0 {
		logging.Info("Registry", "Reconciled servers: %d added, %d removed, %d updated",
			len(result.Added), len(result.Removed), len(result.Updated))
	}
	return result
}

// CloseAll removes every server. Used during shutdown.
func (r *Registry) CloseAll(ctx context.Context) {
	for _, key := range r.Keys() {
		r.Remove(ctx, key)
	}
}
