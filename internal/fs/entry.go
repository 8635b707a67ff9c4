package fs

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Entry is an immutable snapshot of one filesystem object's metadata.
// Identity alone is not a stable key across unlink+recreate; cache
// validity additionally requires (Size, Modified) equality.
type Entry struct {
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	Modified    time.Time `json:"modified"`
	IsDir       bool      `json:"is_dir"`
	IsSymlink   bool      `json:"is_symlink"`
	Permissions uint32    `json:"permissions"`
	Inode       uint64    `json:"inode"`
}

// EntryFromPath captures an Entry with a single lstat. The symlink
// itself is described, not its target.
func EntryFromPath(path string) (Entry, error) {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Entry{}, ErrNotFound(path)
		}
		return Entry{}, err
	}
	return EntryFromInfo(path, info), nil
}

// EntryFromInfo builds an Entry from an already-captured lstat result,
// avoiding a redundant system call when the caller holds one.
func EntryFromInfo(path string, info os.FileInfo) Entry {
	return Entry{
		Name:        filepath.Base(path),
		Path:        path,
		Size:        info.Size(),
		Modified:    info.ModTime(),
		IsDir:       info.IsDir(),
		IsSymlink:   info.Mode()&os.ModeSymlink != 0,
		Permissions: Permissions(info),
		Inode:       Inode(info),
	}
}

// IsHidden reports whether the entry follows the dotfile convention.
func (e Entry) IsHidden() bool {
	return strings.HasPrefix(e.Name, ".")
}

// Extension returns the lowercased extension without the dot, or "".
func (e Entry) Extension() string {
	ext := filepath.Ext(e.Path)
	if ext == "" {
		return ""
	}
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}
