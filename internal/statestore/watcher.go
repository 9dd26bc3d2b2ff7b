package statestore

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports writes to the store's database file. Polling remains the
// cross-process contract; the watcher just lets observers (the SSE hub)
// react without a poll loop. Rapid write bursts are debounced into one tick.
type Watcher struct {
	fsw      *fsnotify.Watcher
	changes  chan struct{}
	debounce time.Duration
	names    map[string]struct{}

	mu     sync.Mutex
	timer  *time.Timer
	cancel context.CancelFunc
}

// Watch creates a watcher for this store's file. The caller must Start it.
func (s *Store) Watch() (*Watcher, error) {
	if s.path == ":memory:" {
		return nil, fmt.Errorf("in-memory store cannot be watched")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(s.path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(s.path), err)
	}

	base := filepath.Base(s.path)
	return &Watcher{
		fsw:      fsw,
		changes:  make(chan struct{}, 1),
		debounce: 250 * time.Millisecond,
		names: map[string]struct{}{
			base:          {},
			base + "-wal": {},
			base + "-shm": {},
		},
	}, nil
}

// Changes delivers one tick per debounced burst of database writes
func (w *Watcher) Changes() <-chan struct{} {
	return w.changes
}

// SetDebounce overrides the debounce window (used by tests)
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.debounce = d
}

// Start begins delivering change ticks until the context is cancelled
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.fsw.Events:
				if !ok {
					return
				}
				w.handleEvent(event)
			case _, ok := <-w.fsw.Errors:
				if !ok {
					return
				}
			}
		}
	}()
}

// Stop stops the watcher and releases its file handles
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.fsw.Close()
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if _, ours := w.names[filepath.Base(event.Name)]; !ours {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) flush() {
	select {
	case w.changes <- struct{}{}:
	default:
	}
}
