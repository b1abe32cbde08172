package policy

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/cdahabbo/rolesync/pkg/logger"
)

// Watcher reloads a Holder when its file changes. The parent directory is
// watched so editors that replace the file by rename are seen too.
type Watcher struct {
	holder   *Holder
	debounce time.Duration
	onReload func(*Table, error)
}

func NewWatcher(h *Holder, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{holder: h, debounce: debounce}
}

// OnReload registers a callback invoked after every reload attempt.
func (w *Watcher) OnReload(fn func(*Table, error)) { w.onReload = fn }

// Run blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	target := filepath.Clean(w.holder.Path())
	if err := fw.Add(filepath.Dir(target)); err != nil {
		return err
	}
	logger.Infof("watching policy file %s", target)

	var pending time.Time
	tick := time.NewTicker(w.debounce / 4)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			logger.Debugf("policy file event %s", ev.Op)
			pending = time.Now()
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Warnf("policy watcher: %v", err)
		case <-tick.C:
			if pending.IsZero() || time.Since(pending) < w.debounce {
				continue
			}
			pending = time.Time{}
			t, err := w.holder.Reload()
			if w.onReload != nil {
				w.onReload(t, err)
			}
		}
	}
}
