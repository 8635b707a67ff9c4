//go:build !unix

package fs

import "os"

// Platforms without stable inode or device semantics fall back to zero
// identity and permission-only mode bits; callers never branch on the
// platform directly.

func Inode(_ os.FileInfo) uint64 { return 0 }

func Permissions(info os.FileInfo) uint32 {
	return uint32(info.Mode().Perm())
}

func DeviceID(_ os.FileInfo) uint64 { return 0 }

func OwnerIDs(_ os.FileInfo) (uint32, uint32, bool) { return 0, 0, false }

// SameFilesystem always reports false, forcing the copy fallback for
// moves. Rename-in-place is an optimization, not a correctness need.
func SameFilesystem(_, _ string) (bool, error) { return false, nil }
