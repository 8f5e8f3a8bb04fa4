package settings

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hpungsan/promptorg/internal/logger"
	"github.com/hpungsan/promptorg/internal/organizer"
)

// Watcher reports settings file changes after a quiet period.
type Watcher struct {
	store    *Store
	watcher  *fsnotify.Watcher
	debounce time.Duration
	log      *logger.Logger
}

// NewWatcher starts watching the settings directory. Events that happen
// after NewWatcher returns are delivered by Run. log may be nil.
func (s *Store) NewWatcher(debounce time.Duration, log *logger.Logger) (*Watcher, error) {
	if log == nil {
		log = logger.Nop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory: the file is replaced by rename on every save.
	if err := fw.Add(s.dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", s.dir, err)
	}
	return &Watcher{store: s, watcher: fw, debounce: debounce, log: log}, nil
}

// Run calls fn with freshly loaded settings once changes to the settings
// file have been quiet for the debounce interval. An unreadable or invalid
// file is logged and skipped. Run blocks until ctx is done and always
// releases the watcher.
func (w *Watcher) Run(ctx context.Context, fn func(organizer.Settings)) error {
	defer w.watcher.Close()

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	target := filepath.Clean(w.store.path)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("settings watcher error", "error", err)

		case <-fire:
			fire = nil
			s, err := w.store.Load()
			if err != nil {
				w.log.Warn("ignoring settings change", "path", target, "error", err)
				continue
			}
			fn(s)
		}
	}
}

// Close releases the watcher without running it.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

// Watch combines NewWatcher and Run.
func (s *Store) Watch(ctx context.Context, debounce time.Duration, log *logger.Logger, fn func(organizer.Settings)) error {
	w, err := s.NewWatcher(debounce, log)
	if err != nil {
		return err
	}
	return w.Run(ctx, fn)
}
