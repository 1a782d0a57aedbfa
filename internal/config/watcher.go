package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads the config file when it changes on disk so tunable policy
// (thresholds, weights, advisor margin) can be adjusted without a restart.
type Watcher struct {
	path     string
	log      *zap.Logger
	onChange func(*Config)

	// debounce absorbs the editor write-then-rename burst.
	debounce time.Duration
}

// NewWatcher creates a watcher for the given config file. onChange is called
// with the freshly validated config; reloads that fail validation are logged
// and dropped.
func NewWatcher(path string, log *zap.Logger, onChange func(*Config)) *Watcher {
	return &Watcher{
		path:     path,
		log:      log,
		onChange: onChange,
		debounce: 200 * time.Millisecond,
	}
}

// Start watches until the context is cancelled. It watches the parent
// directory because most editors and config managers replace the file
// instead of writing it in place.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return err
	}

	go func() {
		defer fw.Close()

		var timer *time.Timer
		fire := make(chan struct{}, 1)

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-fw.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(w.path) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(w.debounce, func() {
					select {
					case fire <- struct{}{}:
					default:
					}
				})
			case <-fire:
				w.reload()
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				w.log.Warn("config watch error", zap.Error(err))
			}
		}
	}()

	w.log.Info("watching config for changes", zap.String("path", w.path))
	return nil
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path, w.log)
	if err != nil {
		w.log.Error("config reload rejected", zap.Error(err))
		return
	}
	w.log.Info("config reloaded", zap.String("path", w.path))
	w.onChange(cfg)
}
