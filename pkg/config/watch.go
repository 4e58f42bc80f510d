package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch re-reads the configuration whenever the global or local config file is written or
// created, and passes the reloaded values to fn. reload errors go to onErr (may be nil) and
// keep the watch running. parent directories are watched so editors replacing the file
// atomically are still seen. blocks until ctx is done.
func (c *Config) Watch(ctx context.Context, fn func(Values), onErr func(error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	targets := map[string]bool{}
	for _, path := range []string{c.globalConfigPath(), c.localConfigPath()} {
		if path == "" {
			continue
		}
		abs, absErr := filepath.Abs(path)
		if absErr != nil {
			return fmt.Errorf("resolve %s: %w", path, absErr)
		}
		targets[abs] = true
		if err := watcher.Add(filepath.Dir(abs)); err != nil {
			return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
		}
	}

	report := func(err error) {
		if onErr != nil {
			onErr(err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			abs, absErr := filepath.Abs(ev.Name)
			if absErr != nil || !targets[abs] {
				continue
			}
			values, loadErr := c.Reload()
			if loadErr != nil {
				report(loadErr)
				continue
			}
			fn(values)
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			report(fmt.Errorf("watch config: %w", werr))
		}
	}
}
