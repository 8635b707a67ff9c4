package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FairForge/armoire/internal/fs"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestMetadataCache_GetOrFetch(t *testing.T) {
	t.Run("second read of unchanged file is a hit", func(t *testing.T) {
		// Arrange
		dir := t.TempDir()
		path := writeFile(t, dir, "a.txt", "hello")
		cache := NewMetadataCache(1, nil)

		// Act
		first, err := cache.GetOrFetch(path)
		require.NoError(t, err)
		second, err := cache.GetOrFetch(path)
		require.NoError(t, err)

		// Assert
		assert.Equal(t, first, second)
		stats := cache.Stats()
		assert.Equal(t, int64(1), stats.Hits)
		assert.Equal(t, int64(1), stats.Misses)
	})

	t.Run("hit costs one stat, miss costs two", func(t *testing.T) {
		// Arrange
		dir := t.TempDir()
		path := writeFile(t, dir, "a.txt", "hello")
		cache := NewMetadataCache(1, nil)
		var statCalls int
		cache.statFn = func(p string) (os.FileInfo, error) {
			statCalls++
			return os.Lstat(p)
		}

		// Act
		_, err := cache.GetOrFetch(path)
		require.NoError(t, err)
		missCost := statCalls

		statCalls = 0
		_, err = cache.GetOrFetch(path)
		require.NoError(t, err)

		// Assert
		assert.Equal(t, 2, missCost, "miss does identity probe plus full read")
		assert.Equal(t, 1, statCalls, "hit does only the identity probe")
	})

	t.Run("size change invalidates the cached entry", func(t *testing.T) {
		// Arrange
		dir := t.TempDir()
		path := writeFile(t, dir, "a.txt", "hello")
		cache := NewMetadataCache(1, nil)
		_, err := cache.GetOrFetch(path)
		require.NoError(t, err)

		// Act
		require.NoError(t, os.WriteFile(path, []byte("hello, longer now"), 0o644))
		entry, err := cache.GetOrFetch(path)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, int64(len("hello, longer now")), entry.Size)
		assert.Equal(t, int64(2), cache.Stats().Misses)
	})

	t.Run("mtime change alone invalidates", func(t *testing.T) {
		// Arrange
		dir := t.TempDir()
		path := writeFile(t, dir, "a.txt", "hello")
		cache := NewMetadataCache(1, nil)
		_, err := cache.GetOrFetch(path)
		require.NoError(t, err)

		// Act - same size, different mtime
		later := time.Now().Add(2 * time.Hour)
		require.NoError(t, os.Chtimes(path, later, later))
		_, err = cache.GetOrFetch(path)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, int64(0), cache.Stats().Hits)
		assert.Equal(t, int64(2), cache.Stats().Misses)
	})

	t.Run("missing file maps to not-found", func(t *testing.T) {
		// Arrange
		cache := NewMetadataCache(1, nil)

		// Act
		_, err := cache.GetOrFetch(filepath.Join(t.TempDir(), "nope"))

		// Assert
		var notFound fs.NotFoundError
		assert.ErrorAs(t, err, &notFound)
	})
}

func TestMetadataCache_Eviction(t *testing.T) {
	t.Run("exceeding capacity evicts least recently used", func(t *testing.T) {
		// Arrange
		dir := t.TempDir()
		a := writeFile(t, dir, "a.txt", "a")
		b := writeFile(t, dir, "b.txt", "b")
		c := writeFile(t, dir, "c.txt", "c")
		cache := NewMetadataCache(1, nil)
		cache.capacity = 2

		// Act
		_, err := cache.GetOrFetch(a)
		require.NoError(t, err)
		_, err = cache.GetOrFetch(b)
		require.NoError(t, err)
		_, err = cache.GetOrFetch(c)
		require.NoError(t, err)

		// Assert - a was the oldest
		assert.Equal(t, 2, cache.Len())
		assert.Equal(t, int64(1), cache.Stats().Evictions)
	})

	t.Run("access refreshes recency", func(t *testing.T) {
		// Arrange
		dir := t.TempDir()
		a := writeFile(t, dir, "a.txt", "a")
		b := writeFile(t, dir, "b.txt", "b")
		c := writeFile(t, dir, "c.txt", "c")
		cache := NewMetadataCache(1, nil)
		cache.capacity = 2

		_, err := cache.GetOrFetch(a)
		require.NoError(t, err)
		_, err = cache.GetOrFetch(b)
		require.NoError(t, err)

		// Act - touch a so b becomes the eviction candidate
		_, err = cache.GetOrFetch(a)
		require.NoError(t, err)
		_, err = cache.GetOrFetch(c)
		require.NoError(t, err)

		// a should still be a hit, b should now miss
		hitsBefore := cache.Stats().Hits
		_, err = cache.GetOrFetch(a)
		require.NoError(t, err)

		// Assert
		assert.Equal(t, hitsBefore+1, cache.Stats().Hits, "a survived the eviction")
	})
}

func TestMetadataCache_Invalidate(t *testing.T) {
	t.Run("invalidated entry misses on next access", func(t *testing.T) {
		// Arrange
		dir := t.TempDir()
		path := writeFile(t, dir, "a.txt", "hello")
		cache := NewMetadataCache(1, nil)
		_, err := cache.GetOrFetch(path)
		require.NoError(t, err)

		// Act
		require.NoError(t, cache.Invalidate(path))

		// Assert
		assert.Equal(t, 0, cache.Len())
	})

	t.Run("invalidate directory removes subtree and keeps siblings", func(t *testing.T) {
		// Arrange
		dir := t.TempDir()
		sub := filepath.Join(dir, "sub")
		require.NoError(t, os.Mkdir(sub, 0o755))
		inside := writeFile(t, sub, "in.txt", "x")
		outside := writeFile(t, dir, "out.txt", "y")
		cache := NewMetadataCache(1, nil)
		_, err := cache.GetOrFetch(inside)
		require.NoError(t, err)
		_, err = cache.GetOrFetch(outside)
		require.NoError(t, err)

		// Act
		cache.InvalidateDirectory(sub)

		// Assert
		assert.Equal(t, 1, cache.Len())
	})

	t.Run("invalidate directory matches the exact path too", func(t *testing.T) {
		// Arrange
		dir := t.TempDir()
		path := writeFile(t, dir, "a.txt", "x")
		cache := NewMetadataCache(1, nil)
		_, err := cache.GetOrFetch(path)
		require.NoError(t, err)

		// Act - works even after the file is gone, no stat needed
		require.NoError(t, os.Remove(path))
		cache.InvalidateDirectory(path)

		// Assert
		assert.Equal(t, 0, cache.Len())
	})
}

func TestMetadataCache_Stats(t *testing.T) {
	t.Run("hit rate over mixed traffic", func(t *testing.T) {
		// Arrange
		dir := t.TempDir()
		path := writeFile(t, dir, "a.txt", "hello")
		cache := NewMetadataCache(1, nil)

		// Act - one miss, three hits
		for i := 0; i < 4; i++ {
			_, err := cache.GetOrFetch(path)
			require.NoError(t, err)
		}

		// Assert
		assert.InDelta(t, 0.75, cache.Stats().HitRate(), 0.001)
	})

	t.Run("empty cache reports zero rate", func(t *testing.T) {
		cache := NewMetadataCache(1, nil)
		assert.Equal(t, 0.0, cache.Stats().HitRate())
	})

	t.Run("clear resets counters", func(t *testing.T) {
		// Arrange
		dir := t.TempDir()
		path := writeFile(t, dir, "a.txt", "hello")
		cache := NewMetadataCache(1, nil)
		_, err := cache.GetOrFetch(path)
		require.NoError(t, err)

		// Act
		cache.Clear()

		// Assert
		stats := cache.Stats()
		assert.Equal(t, 0, stats.Items)
		assert.Equal(t, int64(0), stats.Misses)
	})
}

func TestMetadataCache_Capacity(t *testing.T) {
	t.Run("budget divides into entries with a floor", func(t *testing.T) {
		small := NewMetadataCache(1, nil)
		assert.Equal(t, minCapacity, small.Capacity(), "tiny budgets hit the floor")

		big := NewMetadataCache(128, nil)
		assert.Equal(t, 128*1024*1024/entryFootprint, big.Capacity())
	})
}
