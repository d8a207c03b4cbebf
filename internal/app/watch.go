package app

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/guidoenr/audiosphere/internal/params"
)

// reloadDelay coalesces the burst of events editors emit for one save.
const reloadDelay = 100 * time.Millisecond

// configWatcher reloads the TOML config file whenever it changes on disk.
type configWatcher struct {
	path    string
	watcher *fsnotify.Watcher
	log     *log.Logger
}

// newConfigWatcher watches the directory holding path, so that editors which
// save by renaming a temp file over the original are still noticed.
func newConfigWatcher(path string, logger *log.Logger) (*configWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config path: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	return &configWatcher{path: abs, watcher: w, log: logger}, nil
}

// run delivers one patch per settled change until ctx is done. Files that
// fail to parse are logged and skipped.
func (cw *configWatcher) run(ctx context.Context, out chan<- params.Patch) {
	defer cw.watcher.Close()

	timer := time.NewTimer(reloadDelay)
	timer.Stop()
	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case ev, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != cw.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(reloadDelay)
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.log.Printf("config watcher: %v", err)
		case <-timer.C:
			patch, ignored, err := params.LoadPatch(cw.path)
			if err != nil {
				cw.log.Printf("config reload ignored: %v", err)
				continue
			}
			if len(ignored) > 0 {
				cw.log.Printf("config reload: ignoring unknown keys %v", ignored)
			}
			select {
			case out <- patch:
			case <-ctx.Done():
				return
			}
		}
	}
}
