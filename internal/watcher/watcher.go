// Package watcher reacts to config file changes on disk and pushes validated
// configs to the manager, giving the federation hot reload without waiting
// for the next polling pass.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"toolgate/internal/config"
	"toolgate/pkg/logging"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces bursts of filesystem events (editors typically
// emit several per save) into one reload.
const DefaultDebounce = 500 * time.Millisecond

// OnChange receives the parsed and normalized config of a valid write.
type OnChange func(ctx context.Context, app config.AppConfig)

// Watcher watches the directory containing the config document. Watching the
// directory rather than the file survives the rename-replace pattern most
// editors and configmap mounts use.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange OnChange

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	timer   *time.Timer
	running bool
	wg      sync.WaitGroup
}

// New creates a watcher for the config document at path. debounce <= 0
// selects the default.
func New(path string, debounce time.Duration, onChange OnChange) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		path:     path,
		debounce: debounce,
		onChange: onChange,
	}
}

// Start begins watching. It is a no-op when already running.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		_ = fsw.Close()
		w.mu.Unlock()
		return err
	}

	w.fsw = fsw
	w.running = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.processEvents(ctx)

	logging.Info("ConfigWatcher", "Watching %s for changes", w.path)
	return nil
}

// Stop terminates the watcher and waits for the event loop and any pending
// debounced reload to exit. No onChange fires after Stop returns.
func (w *Watcher) Stop() {
	w.mu.Lock()
	fsw := w.fsw
	w.fsw = nil
	w.running = false
	if w.timer != nil {
		if w.timer.Stop() {
			w.wg.Done()
		}
		w.timer = nil
	}
	w.mu.Unlock()

	if fsw != nil {
		_ = fsw.Close()
	}
	w.wg.Wait()
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer w.wg.Done()

	w.mu.Lock()
	fsw := w.fsw
	w.mu.Unlock()
	if fsw == nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			logging.Error("ConfigWatcher", err, "Filesystem watcher error")
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if filepath.Base(event.Name) != filepath.Base(w.path) {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	if w.timer != nil && w.timer.Stop() {
		w.wg.Done()
	}
	// The callback is tracked in wg so Stop can wait it out, and it
	// re-checks running so a timer firing during shutdown stays inert.
	w.wg.Add(1)
	w.timer = time.AfterFunc(w.debounce, func() {
		defer w.wg.Done()
		w.mu.Lock()
		running := w.running
		w.mu.Unlock()
		if !running {
			return
		}
		w.reload(ctx)
	})
}

// reload reads and validates the config document. Malformed writes are
// rejected with a log line; the previous config stays in effect.
func (w *Watcher) reload(ctx context.Context) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.Warn("ConfigWatcher", "Config %s removed, keeping current server set", w.path)
			return
		}
		logging.Error("ConfigWatcher", err, "Failed to read %s", w.path)
		return
	}

	app, err := config.ParseAppConfig(data)
	if err != nil {
		logging.Error("ConfigWatcher", err, "Rejecting malformed config write at %s", w.path)
		return
	}

	logging.Info("ConfigWatcher", "Config changed, applying %d server entries", len(app.MCPServers))
	if w.onChange != nil {
		w.onChange(ctx, app)
	}
}
