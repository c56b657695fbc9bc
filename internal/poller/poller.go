// Package poller periodically reconciles the registry against the on-disk
// configuration and refreshes server statuses into the status cache.
package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"toolgate/internal/registry"
	"toolgate/internal/statuscache"
	"toolgate/pkg/logging"

	"golang.org/x/sync/errgroup"
)

// DefaultInterval is the period between polling passes.
const DefaultInterval = 60 * time.Second

// maxConcurrentProbes bounds the parallel status refreshes of one pass.
const maxConcurrentProbes = 8

// ReloadFunc reloads the configuration and applies it to the registry. The
// manager supplies it so the poller stays decoupled from config loading.
type ReloadFunc func(ctx context.Context) error

// Poller runs the periodic pass. Passes never overlap: when a pass is still
// running at the next tick, the tick is skipped.
type Poller struct {
	interval time.Duration
	registry *registry.Registry
	cache    *statuscache.Cache
	reload   ReloadFunc

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a poller. interval <= 0 selects the default. reload may be
// nil, in which case passes only refresh statuses.
func New(reg *registry.Registry, cache *statuscache.Cache, reload ReloadFunc, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		interval: interval,
		registry: reg,
		cache:    cache,
		reload:   reload,
	}
}

// Start launches the polling loop. The first pass runs after one interval.
func (p *Poller) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		logging.Info("Poller", "Started with interval %s", p.interval)
		for {
			select {
			case <-loopCtx.Done():
				logging.Debug("Poller", "Stopped")
				return
			case <-ticker.C:
				p.RunOnce(loopCtx)
			}
		}
	}()
}

// Stop cancels the loop and waits for any in-flight pass to finish.
func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// RunOnce executes a single pass: reload the config, reconcile, then refresh
// every server's status into the cache. Returns false when a pass was
// already in flight and this one was skipped.
func (p *Poller) RunOnce(ctx context.Context) bool {
	if !p.running.CompareAndSwap(false, true) {
		logging.Warn("Poller", "Previous pass still running, skipping")
		return false
	}
	defer p.running.Store(false)

	started := time.Now()

	if p.reload != nil {
		if err := p.reload(ctx); err != nil {
			logging.Warn("Poller", "Config reload failed: %v", err)
		}
	}

	p.refreshAll(ctx)

	logging.Debug("Poller", "Pass finished in %s", time.Since(started).Round(time.Millisecond))
	return true
}

// refreshAll probes every registered server in parallel and publishes the
// resulting projections.
func (p *Poller) refreshAll(ctx context.Context) {
	clients := p.registry.Clients()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentProbes)

	for _, key := range p.registry.Keys() {
		key := key
		g.Go(func() error {
			info := p.registry.Info(key)
			if client, live := clients[key]; live {
				info = client.RefreshStatus(gctx)
			}
			if p.cache != nil {
				p.cache.Put(gctx, info)
			}
			return nil
		})
	}
	_ = g.Wait()
}
