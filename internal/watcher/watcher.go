package watcher

import (
	"errors"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounceWindow is the minimum interval between two emitted
// events for the same path.
const DefaultDebounceWindow = 50 * time.Millisecond

// ErrNotStarted is returned by Watch/Unwatch before Start.
var ErrNotStarted = errors.New("watcher: not started")

// Op tags a change event.
type Op int

const (
	Created Op = iota
	Modified
	Deleted
	Renamed
)

func (o Op) String() string {
	switch o {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	case Renamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// Event is one typed filesystem change. For Renamed, From holds the
// old path and Path the new one.
type Event struct {
	Op   Op     `json:"op"`
	Path string `json:"path"`
	From string `json:"from,omitempty"`
}

// Watcher wraps OS change notification. The debounce table and the
// watched set are owned state of one instance, constructed by Start
// and torn down by Stop; nothing here is ambient or global. The
// notification goroutine performs only debounce bookkeeping and a
// non-blocking enqueue; no file I/O happens on that path.
type Watcher struct {
	mu        sync.Mutex
	inner     *fsnotify.Watcher
	lastEvent map[string]time.Time
	watched   map[string]struct{}

	pendingFrom string
	pendingAt   time.Time

	window time.Duration
	events chan<- Event
	done   chan struct{}
	logger *zap.Logger

	dropped int64
}

// NewWatcher creates a watcher with the given debounce window.
func NewWatcher(window time.Duration, logger *zap.Logger) *Watcher {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		lastEvent: make(map[string]time.Time),
		watched:   make(map[string]struct{}),
		window:    window,
		logger:    logger,
	}
}

// Start opens the OS-level handle and begins translating raw
// notifications onto the events channel.
func (w *Watcher) Start(events chan<- Event) error {
	inner, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.inner = inner
	w.events = events
	w.done = make(chan struct{})
	w.mu.Unlock()

	go w.run(inner, w.done)
	return nil
}

// Watch adds a path to the watched set.
func (w *Watcher) Watch(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.inner == nil {
		return ErrNotStarted
	}
	if err := w.inner.Add(path); err != nil {
		return err
	}
	w.watched[path] = struct{}{}
	return nil
}

// Unwatch removes a path from the watched set.
func (w *Watcher) Unwatch(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.inner == nil {
		return ErrNotStarted
	}
	if err := w.inner.Remove(path); err != nil {
		return err
	}
	delete(w.watched, path)
	return nil
}

// IsWatching reports whether the path is in the watched set.
func (w *Watcher) IsWatching(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.watched[path]
	return ok
}

// WatchedCount returns the size of the watched set.
func (w *Watcher) WatchedCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.watched)
}

// Stop tears down the OS-level handle and clears the debounce table
// and the watched set. Safe to call more than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.inner != nil {
		close(w.done)
		_ = w.inner.Close()
		w.inner = nil
	}
	w.lastEvent = make(map[string]time.Time)
	w.watched = make(map[string]struct{})
	w.pendingFrom = ""
}

func (w *Watcher) run(inner *fsnotify.Watcher, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case raw, ok := <-inner.Events:
			if !ok {
				return
			}
			for _, event := range w.translate(raw, time.Now()) {
				w.emit(event)
			}
		case err, ok := <-inner.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", zap.Error(err))
		}
	}
}

// translate runs one raw notification through the debounce filter and
// converts it to typed events. A rename-from is held back and paired
// with the next create inside the window into a single Renamed event;
// a rename-from that never pairs degrades to Deleted.
func (w *Watcher) translate(raw fsnotify.Event, now time.Time) []Event {
	if raw.Name == "" {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	var out []Event

	if w.pendingFrom != "" && now.Sub(w.pendingAt) > w.window {
		out = append(out, Event{Op: Deleted, Path: w.pendingFrom})
		w.pendingFrom = ""
	}

	if last, ok := w.lastEvent[raw.Name]; ok && now.Sub(last) < w.window {
		return out
	}
	w.lastEvent[raw.Name] = now

	switch {
	case raw.Op.Has(fsnotify.Create):
		if w.pendingFrom != "" {
			out = append(out, Event{Op: Renamed, Path: raw.Name, From: w.pendingFrom})
			w.pendingFrom = ""
		} else {
			out = append(out, Event{Op: Created, Path: raw.Name})
		}
	case raw.Op.Has(fsnotify.Rename):
		w.pendingFrom = raw.Name
		w.pendingAt = now
	case raw.Op.Has(fsnotify.Remove):
		out = append(out, Event{Op: Deleted, Path: raw.Name})
	case raw.Op.Has(fsnotify.Write):
		out = append(out, Event{Op: Modified, Path: raw.Name})
	}

	return out
}

// emit enqueues without blocking; a full channel drops the event
// rather than stalling the notification path.
func (w *Watcher) emit(event Event) {
	select {
	case w.events <- event:
	default:
		w.mu.Lock()
		w.dropped++
		dropped := w.dropped
		w.mu.Unlock()
		w.logger.Warn("event channel full, dropping",
			zap.String("path", event.Path), zap.Int64("dropped", dropped))
	}
}
