package config

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"itemstore/pkg/errors"
)

// Watcher hot-reloads the configuration file and notifies subscribers.
// Intended for development; production deployments restart on config change.
type Watcher struct {
	mu        sync.RWMutex
	path      string
	current   *Config
	callbacks []func(*Config)
	watcher   *fsnotify.Watcher
	logger    *zap.Logger
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// NewWatcher starts watching path. The initial configuration must already be
// loaded; reloads that fail validation are dropped with a warning.
func NewWatcher(path string, initial *Config, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "config: create file watcher")
	}
	if err := fsWatcher.Add(path); err != nil {
		fsWatcher.Close()
		return nil, errors.Wrap(err, errors.KindInternal, "config: watch file")
	}
	w := &Watcher{
		path:    path,
		current: initial,
		watcher: fsWatcher,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Current returns the most recently loaded configuration.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnChange registers a callback invoked with each successfully reloaded
// configuration.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, fn)
}

// Stop ends watching. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.watcher.Close()
	})
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.reload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config reload rejected", zap.String("path", w.path), zap.Error(err))
		return
	}
	w.mu.Lock()
	w.current = cfg
	callbacks := make([]func(*Config), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	w.logger.Info("config reloaded", zap.String("path", w.path))
	for _, fn := range callbacks {
		fn(cfg)
	}
}
