package watcher

import (
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_Translate(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	t.Run("raw ops map to typed events", func(t *testing.T) {
		// Arrange
		w := NewWatcher(DefaultDebounceWindow, nil)

		// Act / Assert
		created := w.translate(fsnotify.Event{Name: "/d/new.txt", Op: fsnotify.Create}, base)
		require.Len(t, created, 1)
		assert.Equal(t, Event{Op: Created, Path: "/d/new.txt"}, created[0])

		modified := w.translate(fsnotify.Event{Name: "/d/mod.txt", Op: fsnotify.Write}, base)
		require.Len(t, modified, 1)
		assert.Equal(t, Event{Op: Modified, Path: "/d/mod.txt"}, modified[0])

		deleted := w.translate(fsnotify.Event{Name: "/d/old.txt", Op: fsnotify.Remove}, base)
		require.Len(t, deleted, 1)
		assert.Equal(t, Event{Op: Deleted, Path: "/d/old.txt"}, deleted[0])
	})

	t.Run("writes inside the window collapse to one event", func(t *testing.T) {
		// Arrange
		w := NewWatcher(50*time.Millisecond, nil)
		raw := fsnotify.Event{Name: "/d/busy.txt", Op: fsnotify.Write}

		// Act
		first := w.translate(raw, base)
		second := w.translate(raw, base.Add(20*time.Millisecond))
		third := w.translate(raw, base.Add(40*time.Millisecond))

		// Assert
		assert.Len(t, first, 1)
		assert.Empty(t, second)
		assert.Empty(t, third)
	})

	t.Run("write beyond the window emits again", func(t *testing.T) {
		// Arrange
		w := NewWatcher(50*time.Millisecond, nil)
		raw := fsnotify.Event{Name: "/d/busy.txt", Op: fsnotify.Write}

		// Act
		first := w.translate(raw, base)
		second := w.translate(raw, base.Add(60*time.Millisecond))

		// Assert
		assert.Len(t, first, 1)
		assert.Len(t, second, 1)
	})

	t.Run("debounce is per path", func(t *testing.T) {
		// Arrange
		w := NewWatcher(50*time.Millisecond, nil)

		// Act
		a := w.translate(fsnotify.Event{Name: "/d/a.txt", Op: fsnotify.Write}, base)
		b := w.translate(fsnotify.Event{Name: "/d/b.txt", Op: fsnotify.Write}, base.Add(time.Millisecond))

		// Assert
		assert.Len(t, a, 1)
		assert.Len(t, b, 1)
	})

	t.Run("rename pairs with the next create", func(t *testing.T) {
		// Arrange
		w := NewWatcher(50*time.Millisecond, nil)

		// Act
		held := w.translate(fsnotify.Event{Name: "/d/old.txt", Op: fsnotify.Rename}, base)
		paired := w.translate(fsnotify.Event{Name: "/d/new.txt", Op: fsnotify.Create}, base.Add(10*time.Millisecond))

		// Assert
		assert.Empty(t, held, "rename-from is held back")
		require.Len(t, paired, 1)
		assert.Equal(t, Event{Op: Renamed, Path: "/d/new.txt", From: "/d/old.txt"}, paired[0])
	})

	t.Run("unpaired rename degrades to deleted", func(t *testing.T) {
		// Arrange
		w := NewWatcher(50*time.Millisecond, nil)

		// Act
		_ = w.translate(fsnotify.Event{Name: "/d/old.txt", Op: fsnotify.Rename}, base)
		later := w.translate(fsnotify.Event{Name: "/d/other.txt", Op: fsnotify.Write}, base.Add(200*time.Millisecond))

		// Assert - the stale pending surfaces first, then the write
		require.Len(t, later, 2)
		assert.Equal(t, Event{Op: Deleted, Path: "/d/old.txt"}, later[0])
		assert.Equal(t, Event{Op: Modified, Path: "/d/other.txt"}, later[1])
	})

	t.Run("create after the window is a plain create", func(t *testing.T) {
		// Arrange
		w := NewWatcher(50*time.Millisecond, nil)

		// Act
		_ = w.translate(fsnotify.Event{Name: "/d/old.txt", Op: fsnotify.Rename}, base)
		out := w.translate(fsnotify.Event{Name: "/d/new.txt", Op: fsnotify.Create}, base.Add(200*time.Millisecond))

		// Assert
		require.Len(t, out, 2)
		assert.Equal(t, Event{Op: Deleted, Path: "/d/old.txt"}, out[0])
		assert.Equal(t, Event{Op: Created, Path: "/d/new.txt"}, out[1])
	})
}

func TestWatcher_Lifecycle(t *testing.T) {
	t.Run("watch before start fails", func(t *testing.T) {
		w := NewWatcher(DefaultDebounceWindow, nil)
		assert.ErrorIs(t, w.Watch(t.TempDir()), ErrNotStarted)
		assert.ErrorIs(t, w.Unwatch("/anything"), ErrNotStarted)
	})

	t.Run("watch and unwatch track the set", func(t *testing.T) {
		// Arrange
		w := NewWatcher(DefaultDebounceWindow, nil)
		events := make(chan Event, 16)
		require.NoError(t, w.Start(events))
		defer w.Stop()
		dir := t.TempDir()

		// Act
		require.NoError(t, w.Watch(dir))

		// Assert
		assert.True(t, w.IsWatching(dir))
		assert.Equal(t, 1, w.WatchedCount())

		require.NoError(t, w.Unwatch(dir))
		assert.False(t, w.IsWatching(dir))
		assert.Equal(t, 0, w.WatchedCount())
	})

	t.Run("watching a missing path fails", func(t *testing.T) {
		// Arrange
		w := NewWatcher(DefaultDebounceWindow, nil)
		events := make(chan Event, 16)
		require.NoError(t, w.Start(events))
		defer w.Stop()

		// Act
		err := w.Watch("/does/not/exist")

		// Assert
		assert.Error(t, err)
		assert.Equal(t, 0, w.WatchedCount())
	})

	t.Run("stop clears state and is idempotent", func(t *testing.T) {
		// Arrange
		w := NewWatcher(DefaultDebounceWindow, nil)
		events := make(chan Event, 16)
		require.NoError(t, w.Start(events))
		require.NoError(t, w.Watch(t.TempDir()))

		// Act
		w.Stop()
		w.Stop()

		// Assert
		assert.Equal(t, 0, w.WatchedCount())
		assert.ErrorIs(t, w.Watch(t.TempDir()), ErrNotStarted)
	})
}

func TestWatcher_Emit(t *testing.T) {
	t.Run("full channel drops instead of blocking", func(t *testing.T) {
		// Arrange
		w := NewWatcher(DefaultDebounceWindow, nil)
		events := make(chan Event, 1)
		w.events = events

		// Act
		w.emit(Event{Op: Created, Path: "/a"})
		w.emit(Event{Op: Created, Path: "/b"})

		// Assert
		assert.Len(t, events, 1)
		assert.Equal(t, int64(1), w.dropped)
	})
}
