package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// debounce interval for editors that emit several write events per save.
const reloadDebounce = 300 * time.Millisecond

// Watch observes the configuration file and replaces the store's snapshot
// when it changes. It blocks until ctx is cancelled. Parse failures keep the
// previous snapshot.
func Watch(ctx context.Context, path string, store *Store) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() {
		if errClose := watcher.Close(); errClose != nil {
			log.Errorf("config watcher close error: %v", errClose)
		}
	}()

	// Watch the directory rather than the file so atomic-rename saves
	// (vim, k8s configmaps) keep being observed.
	dir := filepath.Dir(path)
	if err = watcher.Add(dir); err != nil {
		return err
	}

	var pending *time.Timer
	pendingC := make(chan struct{}, 1)
	schedule := func() {
		if pending != nil {
			pending.Stop()
		}
		pending = time.AfterFunc(reloadDebounce, func() {
			select {
			case pendingC <- struct{}{}:
			default:
			}
		})
	}

	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			schedule()
		case errWatch, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Errorf("config watcher error: %v", errWatch)
		case <-pendingC:
			cfg, errLoad := LoadConfig(path)
			if errLoad != nil {
				log.Errorf("config reload failed, keeping previous: %v", errLoad)
				continue
			}
			store.Replace(cfg)
			log.Infof("config reloaded from %s", path)
		}
	}
}
