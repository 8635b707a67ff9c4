//go:build unix

package fs

import "golang.org/x/sys/unix"

// CanRead reports whether the calling process may read the path.
func CanRead(path string) bool {
	return unix.Access(path, unix.R_OK) == nil
}

// CanWrite reports whether the calling process may write the path.
func CanWrite(path string) bool {
	return unix.Access(path, unix.W_OK) == nil
}
