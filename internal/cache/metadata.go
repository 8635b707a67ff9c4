package cache

import (
	"container/list"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/FairForge/armoire/internal/fs"
)

// entryFootprint is the rough in-memory cost of one cached entry, used
// to turn a memory budget into a capacity.
const entryFootprint = 512

// minCapacity is the hard floor: a tiny budget must not produce a
// cache that thrashes.
const minCapacity = 10000

// CachedEntry pairs an entry with the instant it was captured. Cached
// entries are exclusively owned by the cache and never shared outside
// its lock; Get paths return copies.
type CachedEntry struct {
	Entry    fs.Entry
	CachedAt time.Time

	identity uint64
}

// MetadataCache is a bounded least-recently-used map from file
// identity to cached entry. A cached value is only trusted when its
// (size, modified-time) still matches a fresh stat; identity reuse
// with an identical-size, identical-mtime replacement inside the
// cached window is an accepted staleness window, not a defect.
type MetadataCache struct {
	mu       sync.Mutex
	capacity int
	items    map[uint64]*list.Element
	lruList  *list.List

	// statFn is the lightweight identity probe, injectable for call
	// counting in tests.
	statFn func(string) (os.FileInfo, error)
	logger *zap.Logger

	hits      int64
	misses    int64
	evictions int64
}

// NewMetadataCache sizes the cache from a memory budget in MiB.
func NewMetadataCache(memoryBudgetMB int, logger *zap.Logger) *MetadataCache {
	if logger == nil {
		logger = zap.NewNop()
	}

	capacity := memoryBudgetMB * 1024 * 1024 / entryFootprint
	if capacity < minCapacity {
		capacity = minCapacity
	}

	return &MetadataCache{
		capacity: capacity,
		items:    make(map[uint64]*list.Element),
		lruList:  list.New(),
		statFn:   os.Lstat,
		logger:   logger,
	}
}

// GetOrFetch resolves the current identity with one fresh stat, then
// serves from cache when the cached (size, mtime) exactly match.
// Anything else is a miss and triggers a full metadata read that
// replaces the cached entry.
func (c *MetadataCache) GetOrFetch(path string) (fs.Entry, error) {
	info, err := c.statFn(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fs.Entry{}, fs.ErrNotFound(path)
		}
		return fs.Entry{}, err
	}
	identity := fs.Inode(info)

	c.mu.Lock()
	if elem, ok := c.items[identity]; ok {
		cached := elem.Value.(*CachedEntry)
		if cached.Entry.Size == info.Size() && cached.Entry.Modified.Equal(info.ModTime()) {
			c.lruList.MoveToFront(elem)
			c.hits++
			entry := cached.Entry
			c.mu.Unlock()
			return entry, nil
		}
	}
	c.misses++
	c.mu.Unlock()

	// Full read outside the lock; the insert below re-checks nothing
	// because last-writer-wins is fine for a snapshot cache.
	freshInfo, err := c.statFn(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fs.Entry{}, fs.ErrNotFound(path)
		}
		return fs.Entry{}, err
	}
	entry := fs.EntryFromInfo(path, freshInfo)

	c.insert(identity, entry)
	return entry, nil
}

func (c *MetadataCache) insert(identity uint64, entry fs.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[identity]; ok {
		c.lruList.MoveToFront(elem)
		cached := elem.Value.(*CachedEntry)
		cached.Entry = entry
		cached.CachedAt = time.Now()
		return
	}

	elem := c.lruList.PushFront(&CachedEntry{Entry: entry, CachedAt: time.Now(), identity: identity})
	c.items[identity] = elem

	if c.lruList.Len() > c.capacity {
		c.evictOldest()
	}
}

// evictOldest removes the least recently used entry. Caller holds the
// lock.
func (c *MetadataCache) evictOldest() {
	elem := c.lruList.Back()
	if elem == nil {
		return
	}

	c.lruList.Remove(elem)
	cached := elem.Value.(*CachedEntry)
	delete(c.items, cached.identity)
	c.evictions++
}

// Invalidate removes the entry for one path by freshly-resolved
// identity.
func (c *MetadataCache) Invalidate(path string) error {
	info, err := c.statFn(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fs.ErrNotFound(path)
		}
		return err
	}
	identity := fs.Inode(info)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[identity]; ok {
		c.lruList.Remove(elem)
		delete(c.items, identity)
	}
	return nil
}

// InvalidateDirectory removes every cached entry rooted under prefix.
// Linear in cache size, which the capacity bound keeps acceptable. The
// lock is held for the whole traversal.
func (c *MetadataCache) InvalidateDirectory(prefix string) {
	root := filepath.Clean(prefix)
	rootSlash := root + string(filepath.Separator)

	c.mu.Lock()
	defer c.mu.Unlock()

	for identity, elem := range c.items {
		p := elem.Value.(*CachedEntry).Entry.Path
		if p == root || strings.HasPrefix(p, rootSlash) {
			c.lruList.Remove(elem)
			delete(c.items, identity)
		}
	}
}

// Clear drops every entry and resets the counters.
func (c *MetadataCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[uint64]*list.Element)
	c.lruList = list.New()
	c.hits = 0
	c.misses = 0
	c.evictions = 0
}

// Len returns the number of cached entries.
func (c *MetadataCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lruList.Len()
}

// Capacity returns the derived entry capacity.
func (c *MetadataCache) Capacity() int {
	return c.capacity
}

// Stats holds cache statistics.
type Stats struct {
	Items     int
	Hits      int64
	Misses    int64
	Evictions int64
	Capacity  int
}

// HitRate calculates the cache hit rate.
func (s *Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Stats returns current cache statistics.
func (c *MetadataCache) Stats() *Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return &Stats{
		Items:     c.lruList.Len(),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Capacity:  c.capacity,
	}
}
