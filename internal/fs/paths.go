package fs

import (
	"os"
	"path/filepath"
	"strings"
)

// maxPathComponents bounds how deep a path may nest before it is
// rejected as invalid.
const maxPathComponents = 256

// ValidatePath checks that a path exists and stays within the depth
// bound.
func ValidatePath(path string) error {
	if _, err := os.Lstat(path); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound(path)
		}
		if os.IsPermission(err) {
			return PermissionError{Path: path}
		}
		return err
	}

	if strings.Count(filepath.Clean(path), string(filepath.Separator)) > maxPathComponents {
		return ErrInvalidPath(path)
	}

	return nil
}

// ResolveSymlinks follows a chain of symlinks up to maxHops, returning
// the first non-link path. A chain that never resolves is a loop.
func ResolveSymlinks(path string, maxHops int) (string, error) {
	current := path
	for hops := 0; ; hops++ {
		info, err := os.Lstat(current)
		if err != nil {
			if os.IsNotExist(err) {
				return "", ErrNotFound(current)
			}
			return "", err
		}
		if info.Mode()&os.ModeSymlink == 0 {
			return current, nil
		}
		if hops >= maxHops {
			return "", SymlinkLoopError{Path: path}
		}

		target, err := os.Readlink(current)
		if err != nil {
			return "", err
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(current), target)
		}
		current = target
	}
}
