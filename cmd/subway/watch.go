package main

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/subwaynet/subway/internal/server"
	"github.com/subwaynet/subway/pkg/logger"
)

// watchConfig reloads the reloadable configuration subset whenever the file
// changes. Editors replace files rather than write in place, so the parent
// directory is watched and events are debounced.
func watchConfig(ctx context.Context, path string, srv *server.Server) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Error("config watch: %v", err)
		return
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		logger.Error("config watch %s: %v", dir, err)
		return
	}

	target, err := filepath.Abs(path)
	if err != nil {
		logger.Error("config watch: %v", err)
		return
	}

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			abs, err := filepath.Abs(event.Name)
			if err != nil || abs != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(250 * time.Millisecond)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Error("config watch: %v", err)
		case <-pending:
			pending = nil
			cfg, err := loadServerConfig(path)
			if err != nil {
				logger.Error("config reload rejected: %v", err)
				continue
			}
			srv.Reload(&cfg.Config)
			logger.SetDebug(cfg.Log.Debug)
		}
	}
}
