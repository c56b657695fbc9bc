package statuscache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"toolgate/internal/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu      sync.Mutex
	entries map[string]string
	ttls    map[string]time.Duration
	failing bool
}

func newMemStore() *memStore {
	return &memStore{entries: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memStore) set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return errors.New("store down")
	}
	m.entries[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *memStore) get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return "", false, errors.New("store down")
	}
	v, ok := m.entries[key]
	return v, ok, nil
}

func (m *memStore) close() {}

func TestPutGetRoundTrip(t *testing.T) {
	store := newMemStore()
	cache := newWithStore(store, DefaultTTL)

	info := api.ManagedServerInfo{
		Key:           "s1",
		Label:         "demo",
		Status:        api.StatusConnected,
		Tools:         []api.ToolDescriptor{{Name: "ping"}},
		TransportType: "stdio",
	}
	cache.Put(context.Background(), info)

	got := cache.Get(context.Background(), "s1")
	assert.Equal(t, info, got)
	assert.Equal(t, DefaultTTL, store.ttls[Key("s1")], "every write refreshes the TTL")
}

func TestGetMissYieldsUninitialized(t *testing.T) {
	cache := newWithStore(newMemStore(), DefaultTTL)

	got := cache.Get(context.Background(), "ghost")
	assert.Equal(t, api.StatusUninitialized, got.Status)
	assert.Equal(t, "ghost", got.Key)
	assert.Empty(t, got.ErrorDetails)
}

func TestStoreFailureIsNonFatal(t *testing.T) {
	store := newMemStore()
	store.failing = true
	cache := newWithStore(store, DefaultTTL)

	// Writes are swallowed.
	cache.Put(context.Background(), api.ManagedServerInfo{Key: "s1"})

	// Reads degrade to uninitialized with a note.
	got := cache.Get(context.Background(), "s1")
	assert.Equal(t, api.StatusUninitialized, got.Status)
	assert.Equal(t, "cache unavailable", got.ErrorDetails)
}

func TestDisabledCache(t *testing.T) {
	cache := New("")
	require.False(t, cache.Enabled())

	cache.Put(context.Background(), api.ManagedServerInfo{Key: "s1", Status: api.StatusConnected})
	got := cache.Get(context.Background(), "s1")
	assert.Equal(t, api.StatusUninitialized, got.Status)
}

func TestCorruptEntryYieldsUninitialized(t *testing.T) {
	store := newMemStore()
	store.entries[Key("s1")] = "{not json"
	cache := newWithStore(store, DefaultTTL)

	got := cache.Get(context.Background(), "s1")
	assert.Equal(t, api.StatusUninitialized, got.Status)
}

func TestKeyFormat(t *testing.T) {
	assert.Equal(t, "mcp_status:s1", Key("s1"))
}
