package allowlist

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits after the last file event before
// reloading. Editors often emit several events per save.
const DefaultDebounce = 200 * time.Millisecond

// Watcher reloads a List from a YAML file whenever the file changes.
type Watcher struct {
	path     string
	list     *List
	logger   *slog.Logger
	debounce time.Duration

	// OnReload, if set, is called after every reload attempt with its outcome.
	OnReload func(err error)
}

// NewWatcher creates a Watcher for path. It does not read the file; call Reload
// for the initial load.
func NewWatcher(path string, list *List, logger *slog.Logger) *Watcher {
	return &Watcher{
		path:     filepath.Clean(path),
		list:     list,
		logger:   logger.With("component", "allowlist_watcher"),
		debounce: DefaultDebounce,
	}
}

// Reload reads the file and replaces the list contents. On error the current
// contents are kept.
func (w *Watcher) Reload() error {
	domains, err := LoadFile(w.path)
	if err == nil {
		w.list.Replace(domains)
	}
	if w.OnReload != nil {
		w.OnReload(err)
	}
	return err
}

// Run watches the file's directory until ctx is canceled. Watching the directory
// rather than the file keeps working across atomic rename-into-place saves.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("allowlist: create watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("allowlist: watch %s: %w", filepath.Dir(w.path), err)
	}
	w.logger.Info("watching allowlist file", "path", w.path)

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return fmt.Errorf("allowlist: watcher events channel closed")
			}
			if filepath.Clean(event.Name) != w.path || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.logger.Debug("allowlist file event", "op", event.Op.String())
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if err := w.Reload(); err != nil {
				w.logger.Warn("allowlist reload failed; keeping previous domains", "err", err)
				continue
			}
			w.logger.Info("allowlist reloaded", "domains", w.list.Domains())

		case err, ok := <-fw.Errors:
			if !ok {
				return fmt.Errorf("allowlist: watcher errors channel closed")
			}
			w.logger.Warn("allowlist watcher error", "err", err)
		}
	}
}
