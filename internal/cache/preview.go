package cache

import (
	"container/list"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
)

// Preview sizes in pixels, matching the freedesktop thumbnail spec
// directories.
type PreviewSize int

const (
	PreviewNormal PreviewSize = 128
	PreviewLarge  PreviewSize = 256
)

func (s PreviewSize) dirName() string {
	if s == PreviewLarge {
		return "large"
	}
	return "normal"
}

// previewFootprint is the uncompressed RGBA cost of one large preview,
// used to derive the in-memory capacity.
const previewFootprint = int(PreviewLarge) * int(PreviewLarge) * 4

// minPreviewCapacity keeps tiny budgets usable.
const minPreviewCapacity = 100

var supportedPreviewExtensions = map[string]struct{}{
	"png": {}, "jpg": {}, "jpeg": {}, "gif": {}, "bmp": {}, "webp": {},
	"svg": {}, "tiff": {}, "tif": {}, "ico": {}, "heic": {}, "heif": {},
}

// PreviewCache stores generated previews: an in-memory LRU in front of
// a disk tier where payloads are zstd-compressed, keyed by a
// blake2b-256 of the file URI.
type PreviewCache struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	lruList  *list.List

	cacheDir string
	encoder  *zstd.Encoder
	decoder  *zstd.Decoder
	logger   *zap.Logger
}

type previewItem struct {
	key  string
	data []byte
}

// NewPreviewCache creates the cache rooted at cacheDir, sized from a
// memory budget in MiB.
func NewPreviewCache(cacheDir string, memoryBudgetMB int, logger *zap.Logger) (*PreviewCache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	for _, size := range []PreviewSize{PreviewNormal, PreviewLarge} {
		if err := os.MkdirAll(filepath.Join(cacheDir, size.dirName()), 0o750); err != nil {
			return nil, err
		}
	}

	capacity := memoryBudgetMB * 1024 * 1024 / previewFootprint
	if capacity < minPreviewCapacity {
		capacity = minPreviewCapacity
	}

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}

	return &PreviewCache{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		lruList:  list.New(),
		cacheDir: cacheDir,
		encoder:  encoder,
		decoder:  decoder,
		logger:   logger,
	}, nil
}

// SupportedFormat reports whether a preview can be generated for the
// path, by extension.
func SupportedFormat(path string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	_, ok := supportedPreviewExtensions[ext]
	return ok
}

// Get returns the preview bytes for path at size, consulting memory
// first and falling back to the disk tier.
func (c *PreviewCache) Get(path string, size PreviewSize) ([]byte, bool) {
	key := previewKey(path, size)

	c.mu.Lock()
	if elem, ok := c.items[key]; ok {
		c.lruList.MoveToFront(elem)
		data := elem.Value.(*previewItem).data
		c.mu.Unlock()
		return data, true
	}
	c.mu.Unlock()

	compressed, err := os.ReadFile(c.diskPath(path, size))
	if err != nil {
		return nil, false
	}
	data, err := c.decoder.DecodeAll(compressed, nil)
	if err != nil {
		c.logger.Warn("corrupt preview on disk",
			zap.String("path", path), zap.Error(err))
		return nil, false
	}

	c.remember(key, data)
	return data, true
}

// Put stores a preview in memory and, compressed, on disk.
func (c *PreviewCache) Put(path string, size PreviewSize, data []byte) error {
	c.remember(previewKey(path, size), data)

	compressed := c.encoder.EncodeAll(data, nil)
	return os.WriteFile(c.diskPath(path, size), compressed, 0o640)
}

// Remove drops both sizes of a path's preview from memory and disk.
func (c *PreviewCache) Remove(path string) {
	for _, size := range []PreviewSize{PreviewNormal, PreviewLarge} {
		key := previewKey(path, size)

		c.mu.Lock()
		if elem, ok := c.items[key]; ok {
			c.lruList.Remove(elem)
			delete(c.items, key)
		}
		c.mu.Unlock()

		_ = os.Remove(c.diskPath(path, size))
	}
}

// Clear empties the memory tier and resets the disk tier directories.
func (c *PreviewCache) Clear() error {
	c.mu.Lock()
	c.items = make(map[string]*list.Element)
	c.lruList = list.New()
	c.mu.Unlock()

	for _, size := range []PreviewSize{PreviewNormal, PreviewLarge} {
		dir := filepath.Join(c.cacheDir, size.dirName())
		if err := os.RemoveAll(dir); err != nil {
			return err
		}
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of previews resident in memory.
func (c *PreviewCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lruList.Len()
}

// Capacity returns the in-memory entry capacity.
func (c *PreviewCache) Capacity() int {
	return c.capacity
}

// DiskSize totals the bytes held by the disk tier.
func (c *PreviewCache) DiskSize() (int64, error) {
	var total int64
	err := filepath.Walk(c.cacheDir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}

func (c *PreviewCache) remember(key string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.lruList.MoveToFront(elem)
		elem.Value.(*previewItem).data = data
		return
	}

	elem := c.lruList.PushFront(&previewItem{key: key, data: data})
	c.items[key] = elem

	if c.lruList.Len() > c.capacity {
		back := c.lruList.Back()
		if back != nil {
			c.lruList.Remove(back)
			delete(c.items, back.Value.(*previewItem).key)
		}
	}
}

func (c *PreviewCache) diskPath(path string, size PreviewSize) string {
	return filepath.Join(c.cacheDir, size.dirName(), uriHash(path)+".zst")
}

func uriHash(path string) string {
	sum := blake2b.Sum256([]byte("file://" + path))
	return hex.EncodeToString(sum[:])
}

// previewKey is the memory-tier key; the size lives in the key because
// both sizes of one path coexist.
func previewKey(path string, size PreviewSize) string {
	return size.dirName() + "/" + uriHash(path)
}
