// Package statuscache stores per-server status projections in a
// Redis-compatible store so read-only APIs in other processes can serve
// status without touching live clients.
//
// The cache is strictly best-effort: when the store is unreachable the
// manager keeps running, writes are dropped with a log line, and reads
// degrade to a synthetic uninitialized entry.
package statuscache

import (
	"context"
	"encoding/json"
	"time"

	"toolgate/internal/api"
	"toolgate/pkg/logging"

	"github.com/valkey-io/valkey-go"
)

const (
	// KeyPrefix namespaces all cache entries.
	KeyPrefix = "mcp_status:"
	// DefaultTTL is how long a written entry stays valid. Every write
	// refreshes it.
	DefaultTTL = 300 * time.Second
)

// kv is the minimal store surface the cache needs. It exists so tests can
// substitute an in-memory store.
type kv interface {
	set(ctx context.Context, key, value string, ttl time.Duration) error
	get(ctx context.Context, key string) (string, bool, error)
	close()
}

// Cache wraps the external store. A nil store means the cache is disabled
// and every read yields uninitialized.
type Cache struct {
	store kv
	ttl   time.Duration
}

// New connects to the store at redisURL (redis:// or valkey:// scheme).
// An empty URL or a connection setup error yields a disabled cache.
func New(redisURL string) *Cache {
	if redisURL == "" {
		logging.Info("StatusCache", "No cache endpoint configured, status cache disabled")
		return &Cache{ttl: DefaultTTL}
	}

	opt, err := valkey.ParseURL(redisURL)
	if err != nil {
		logging.Error("StatusCache", err, "Invalid cache URL, status cache disabled")
		return &Cache{ttl: DefaultTTL}
	}

	client, err := valkey.NewClient(opt)
	if err != nil {
		logging.Error("StatusCache", err, "Cannot connect to status cache, continuing without it")
		return &Cache{ttl: DefaultTTL}
	}

	logging.Info("StatusCache", "Status cache connected")
	return &Cache{store: &valkeyKV{client: client}, ttl: DefaultTTL}
}

// newWithStore is the test seam.
func newWithStore(store kv, ttl time.Duration) *Cache {
	return &Cache{store: store, ttl: ttl}
}

// Enabled reports whether a store is attached.
func (c *Cache) Enabled() bool {
	return c.store != nil
}

// Key returns the cache key for a server.
func Key(serverKey string) string {
	return KeyPrefix + serverKey
}

// Put writes one status projection, refreshing its TTL. Failures are logged
// and swallowed; the cache is never load-bearing.
func (c *Cache) Put(ctx context.Context, info api.ManagedServerInfo) {
	if c.store == nil {
		return
	}

	data, err := json.Marshal(info)
	if err != nil {
		logging.Error("StatusCache", err, "Failed to serialize status for %s", info.Key)
		return
	}

	if err := c.store.set(ctx, Key(info.Key), string(data), c.ttl); err != nil {
		logging.Warn("StatusCache", "Failed to write status for %s: %v", info.Key, err)
	}
}

// Get reads one status projection. A miss yields a synthetic uninitialized
// entry; a store failure yields uninitialized with a cache_unavailable note.
func (c *Cache) Get(ctx context.Context, serverKey string) api.ManagedServerInfo {
	synthetic := api.ManagedServerInfo{
		Key:    serverKey,
		Status: api.StatusUninitialized,
		Tools:  []api.ToolDescriptor{},
	}

	if c.store == nil {
		return synthetic
	}

	value, found, err := c.store.get(ctx, Key(serverKey))
	if err != nil {
		logging.Warn("StatusCache", "Failed to read status for %s: %v", serverKey, err)
		synthetic.ErrorDetails = "cache unavailable"
		return synthetic
	}
	if !found {
		return synthetic
	}

	var info api.ManagedServerInfo
	if err := json.Unmarshal([]byte(value), &info); err != nil {
		logging.Warn("StatusCache", "Corrupt cache entry for %s: %v", serverKey, err)
		return synthetic
	}
	return info
}

// Close releases the store connection.
func (c *Cache) Close() {
	if c.store != nil {
		c.store.close()
	}
}

// valkeyKV adapts a valkey client to the kv seam.
type valkeyKV struct {
	client valkey.Client
}

func (v *valkeyKV) set(ctx context.Context, key, value string, ttl time.Duration) error {
	cmd := v.client.B().Set().Key(key).Value(value).Ex(ttl).Build()
	return v.client.Do(ctx, cmd).Error()
}

func (v *valkeyKV) get(ctx context.Context, key string) (string, bool, error) {
	cmd := v.client.B().Get().Key(key).Build()
	value, err := v.client.Do(ctx, cmd).ToString()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

func (v *valkeyKV) close() {
	v.client.Close()
}
