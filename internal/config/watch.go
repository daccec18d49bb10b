package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

// debounce coalesces the burst of events editors emit for one save.
const debounce = 100 * time.Millisecond

// Watcher reloads a configuration file when it changes on disk.
type Watcher struct {
	w      *fsnotify.Watcher
	path   string
	logger *slog.Logger
	apply  func(*Config)
	done   chan struct{}
}

// Watch calls apply with the reloaded configuration each time path is
// written, created or renamed into place. Files that fail to load are
// logged and skipped. The watcher stops when ctx ends or Close is called.
func Watch(ctx context.Context, path string, logger *slog.Logger, apply func(*Config)) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve %s", path)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create watcher")
	}
	// the directory is watched so atomic renames over the file are seen
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, errors.Wrapf(err, "failed to watch %s", filepath.Dir(abs))
	}
	cw := &Watcher{
		w:      w,
		path:   abs,
		logger: logger.With("component", "config", "path", abs),
		apply:  apply,
		done:   make(chan struct{}),
	}
	go cw.loop(ctx)
	return cw, nil
}

// Close stops the watcher and waits for its goroutine.
func (cw *Watcher) Close() error {
	err := cw.w.Close()
	<-cw.done
	return err
}

func (cw *Watcher) loop(ctx context.Context) {
	defer close(cw.done)

	reload := time.NewTimer(time.Hour)
	reload.Stop()
	defer reload.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = cw.w.Close()
			return
		case ev, ok := <-cw.w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != cw.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			reload.Reset(debounce)
		case err, ok := <-cw.w.Errors:
			if !ok {
				return
			}
			cw.logger.Warn("watch error", "err", err)
		case <-reload.C:
			cfg, err := Load(cw.path)
			if err != nil {
				cw.logger.Warn("config reload rejected", "err", err)
				continue
			}
			cw.logger.Info("config reloaded")
			cw.apply(cfg)
		}
	}
}
