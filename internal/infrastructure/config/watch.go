package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// reloadDebounce coalesces the burst of events a single file save tends to
// produce (write + chmod, sometimes a rename-based editor save) into one
// reload.
const reloadDebounce = 250 * time.Millisecond

// Watcher reloads a user's configuration whenever its config.yaml (or the
// shared common.yaml) changes on disk, so endpoint/preset/workflow edits
// take effect without restarting the process.
type Watcher struct {
	watcher         *fsnotify.Watcher
	configDirectory string
	user            string
	logger          *zap.Logger
	onReload        func(*Config)
}

// Watch builds a Watcher for configDirectory/user. onReload is invoked with
// the freshly loaded Config after every debounced change; load failures are
// logged and leave the previous configuration in effect. Call Run to start
// watching; the returned Watcher must be Closed on shutdown.
func Watch(configDirectory, user string, logger *zap.Logger, onReload func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: build watcher: %w", err)
	}

	userDir := filepath.Join(configDirectory, user)
	if err := fw.Add(userDir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("config: watch %s: %w", userDir, err)
	}
	if err := fw.Add(configDirectory); err != nil {
		logger.Warn("config: could not watch shared config directory", zap.Error(err))
	}

	return &Watcher{
		watcher:         fw,
		configDirectory: configDirectory,
		user:            user,
		logger:          logger.With(zap.String("component", "config-watcher")),
		onReload:        onReload,
	}, nil
}

// Run drives the watcher's event loop until stop is closed.
func (w *Watcher) Run(stop <-chan struct{}) {
	var timer *time.Timer
	for {
		select {
		case <-stop:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			base := filepath.Base(event.Name)
			if base != "config.yaml" && base != "common.yaml" {
				continue
			}
			if timer == nil {
				timer = time.AfterFunc(reloadDebounce, w.reload)
			} else {
				timer.Reset(reloadDebounce)
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
	cfg, err := Load(w.configDirectory, w.user)
	if err != nil {
		w.logger.Error("config reload failed, keeping previous configuration", zap.Error(err))
		return
	}
	w.logger.Info("configuration reloaded")
	w.onReload(cfg)
}

// Close stops the underlying filesystem watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
