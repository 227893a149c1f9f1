package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// watchDebounce batches the event bursts editors produce on save.
const watchDebounce = 300 * time.Millisecond

// Watcher hot-reloads the YAML config file: on a change it reloads,
// validates, and swaps the Registry. A file that fails to load or validate
// is logged and skipped; the running snapshot stays in place.
type Watcher struct {
	registry *Registry
	path     string
	logger   *zap.Logger

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewWatcher watches the directory holding path, since editors and deploy
// tools replace config files by rename, which a direct file watch loses.
func NewWatcher(registry *Registry, path string, logger *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		_ = fw.Close()
		return nil, err
	}
	return &Watcher{
		registry: registry,
		path:     path,
		logger:   logger,
		watcher:  fw,
		stopCh:   make(chan struct{}),
	}, nil
}

// Start runs the watch loop in a background goroutine.
func (w *Watcher) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		w.logger.Info("config watcher started", zap.String("path", w.path))

		var timer *time.Timer
		var pending <-chan time.Time
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		for {
			select {
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(w.path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(watchDebounce)
					pending = timer.C
				} else {
					if !timer.Stop() {
						select {
						case <-timer.C:
						default:
						}
					}
					timer.Reset(watchDebounce)
				}

			case <-pending:
				timer = nil
				pending = nil
				w.reload()

			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.logger.Warn("config watcher error", zap.Error(err))

			case <-w.stopCh:
				w.logger.Info("config watcher stopped")
				return
			}
		}
	}()
}

// Stop joins the watch loop and releases the underlying watcher.
func (w *Watcher) Stop() {
	close(w.stopCh)
	w.wg.Wait()
	_ = w.watcher.Close()
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error("config reload failed, keeping current", zap.Error(err))
		return
	}
	if err := cfg.Validate(); err != nil {
		w.logger.Error("config reload invalid, keeping current", zap.Error(err))
		return
	}
	version := w.registry.Swap(cfg)
	w.logger.Info("config reloaded",
		zap.String("path", w.path),
		zap.Uint64("version", version))
}
