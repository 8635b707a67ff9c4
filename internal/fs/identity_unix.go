//go:build unix

package fs

import (
	"os"
	"syscall"
)

// Inode returns the platform file identity for a stat result.
func Inode(info os.FileInfo) uint64 {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return st.Ino
	}
	return 0
}

// Permissions returns the full mode bitmask including setuid/sticky.
func Permissions(info os.FileInfo) uint32 {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return uint32(st.Mode) & 0o7777
	}
	return uint32(info.Mode().Perm())
}

// DeviceID returns the id of the filesystem holding the file.
func DeviceID(info os.FileInfo) uint64 {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return uint64(st.Dev)
	}
	return 0
}

// OwnerIDs returns the numeric uid and gid of the file's owner.
func OwnerIDs(info os.FileInfo) (uint32, uint32, bool) {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return st.Uid, st.Gid, true
	}
	return 0, 0, false
}

// SameFilesystem compares the device identity of two paths.
func SameFilesystem(a, b string) (bool, error) {
	ia, err := os.Stat(a)
	if err != nil {
		return false, err
	}
	ib, err := os.Stat(b)
	if err != nil {
		return false, err
	}
	return DeviceID(ia) == DeviceID(ib), nil
}
