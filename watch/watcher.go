// Package watch observes the local files that participated in a module
// graph build and reports batches of changed paths, letting a caller
// re-prepare affected roots.
package watch

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const debounceInterval = 300 * time.Millisecond

// Watcher collects file paths through the graph builder's reporter hook and
// emits debounced change batches.
type Watcher struct {
	fsw    *fsnotify.Watcher
	logger *zap.Logger

	mu    sync.Mutex
	files map[string]bool
	dirs  map[string]bool
}

// New returns a watcher backed by the platform file notification API.
func New(logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	return &Watcher{
		fsw:    fsw,
		logger: logger,
		files:  map[string]bool{},
		dirs:   map[string]bool{},
	}, nil
}

// OnLoad registers a loaded specifier for change tracking. Non-file
// specifiers are ignored. Directories are watched rather than individual
// files so that editors replacing files on save are still observed.
func (w *Watcher) OnLoad(specifier string) {
	u, err := url.Parse(specifier)
	if err != nil || u.Scheme != "file" {
		return
	}
	path := u.Path

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.files[path] {
		return
	}
	w.files[path] = true

	dir := filepath.Dir(path)
	if w.dirs[dir] {
		return
	}
	if err := w.fsw.Add(dir); err != nil {
		w.logger.Warn("failed to watch directory", zap.String("dir", dir), zap.Error(err))
		return
	}
	w.dirs[dir] = true
}

// Watch starts the event loop and returns a channel of sorted changed-path
// batches. The channel closes when ctx is done or the watcher is closed.
func (w *Watcher) Watch(ctx context.Context) <-chan []string {
	out := make(chan []string, 1)
	go w.run(ctx, out)
	return out
}

func (w *Watcher) run(ctx context.Context, out chan<- []string) {
	defer close(out)

	pending := map[string]bool{}
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				if timer != nil {
					timer.Stop()
				}
				return
			}
			if !isRelevantChange(event) {
				continue
			}
			w.mu.Lock()
			tracked := w.files[event.Name]
			w.mu.Unlock()
			if !tracked {
				continue
			}

			pending[event.Name] = true
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(debounceInterval)
			timerC = timer.C

		case err, ok := <-w.fsw.Errors:
			if !ok {
				if timer != nil {
					timer.Stop()
				}
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))

		case <-timerC:
			changed := make([]string, 0, len(pending))
			for path := range pending {
				changed = append(changed, path)
			}
			sort.Strings(changed)
			pending = map[string]bool{}
			timer = nil
			timerC = nil

			select {
			case out <- changed:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Close stops the underlying notification watcher. Any active Watch loop
// drains and closes its channel.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

func isRelevantChange(event fsnotify.Event) bool {
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
		event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)
}
