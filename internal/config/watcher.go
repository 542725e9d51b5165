package config

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher hot-reloads the config file and notifies subscribers. Only
// settings read at use time (cleanup intervals, thresholds) take effect on
// reload; components that captured values at construction keep them.
type Watcher struct {
	path     string
	mu       sync.RWMutex
	current  *Config
	onChange []func(*Config)
}

// NewWatcher performs the initial load and remembers the file path.
func NewWatcher() (*Watcher, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	return &Watcher{path: path, current: cfg}, nil
}

// Config returns the current (latest) configuration.
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnChange registers a callback invoked whenever the config reloads.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, fn)
}

// Watch starts a background goroutine that reloads the config on file
// changes. Call the returned stop function to clean up. A reload that
// fails to parse keeps the previous config.
func (w *Watcher) Watch() (stop func(), err error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	if err := fw.Add(w.path); err != nil {
		fw.Close()
		return nil, fmt.Errorf("config watcher add %s: %w", w.path, err)
	}

	done := make(chan struct{})
	go func() {
		defer fw.Close()
		for {
			select {
			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					cfg, err := Load()
					if err != nil {
						slog.Warn("Config reload failed, keeping previous", "path", w.path, "error", err)
						continue
					}
					w.mu.Lock()
					w.current = cfg
					callbacks := make([]func(*Config), len(w.onChange))
					copy(callbacks, w.onChange)
					w.mu.Unlock()
					slog.Info("Config reloaded", "path", w.path)
					for _, fn := range callbacks {
						fn(cfg)
					}
				}
			case <-fw.Errors:
			case <-done:
				return
			}
		}
	}()

	return func() { close(done) }, nil
}
