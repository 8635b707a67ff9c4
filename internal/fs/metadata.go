package fs

import (
	"fmt"
	"os"
	"os/user"
	"strconv"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// ExtendedMetadata carries everything a detail view needs about one
// entry, beyond the cheap Entry snapshot.
type ExtendedMetadata struct {
	Entry        Entry  `json:"entry"`
	Owner        string `json:"owner"`
	Group        string `json:"group"`
	LinkTarget   string `json:"link_target,omitempty"`
	MimeType     string `json:"mime_type"`
	IsExecutable bool   `json:"is_executable"`
	IsReadable   bool   `json:"is_readable"`
	IsWritable   bool   `json:"is_writable"`
}

// ExtendedMetadataFromPath collects extended metadata for one path.
// Unlike EntryFromPath this may open the file for MIME sniffing.
func ExtendedMetadataFromPath(path string) (*ExtendedMetadata, error) {
	entry, err := EntryFromPath(path)
	if err != nil {
		return nil, err
	}

	info, err := os.Lstat(path)
	if err != nil {
		return nil, err
	}

	owner, group := ownerGroup(info)

	linkTarget := ""
	if entry.IsSymlink {
		if target, err := os.Readlink(path); err == nil {
			linkTarget = target
		}
	}

	return &ExtendedMetadata{
		Entry:        entry,
		Owner:        owner,
		Group:        group,
		LinkTarget:   linkTarget,
		MimeType:     detectMimeType(path, entry),
		IsExecutable: entry.Permissions&0o111 != 0,
		IsReadable:   CanRead(path),
		IsWritable:   CanWrite(path),
	}, nil
}

func ownerGroup(info os.FileInfo) (string, string) {
	uid, gid, ok := OwnerIDs(info)
	if !ok {
		return "unknown", "unknown"
	}

	owner := strconv.FormatUint(uint64(uid), 10)
	if u, err := user.LookupId(owner); err == nil {
		owner = u.Username
	}

	group := strconv.FormatUint(uint64(gid), 10)
	if g, err := user.LookupGroupId(group); err == nil {
		group = g.Name
	}

	return owner, group
}

func detectMimeType(path string, entry Entry) string {
	if entry.IsDir {
		return "inode/directory"
	}
	if entry.IsSymlink {
		return "inode/symlink"
	}
	if mt, err := mimetype.DetectFile(path); err == nil {
		return mt.String()
	}
	return "application/octet-stream"
}

// FormatSize renders a byte count the way file managers do: "1.00 MB".
func FormatSize(bytes int64) string {
	units := []string{"B", "KB", "MB", "GB", "TB", "PB"}

	if bytes < 1024 {
		return fmt.Sprintf("%d B", bytes)
	}

	size := float64(bytes)
	unit := 0
	for size >= 1024 && unit < len(units)-1 {
		size /= 1024
		unit++
	}

	return fmt.Sprintf("%.2f %s", size, units[unit])
}

// FormatPermissions renders a mode bitmask as "rwxr-xr-x".
func FormatPermissions(mode uint32) string {
	flags := []struct {
		bit uint32
		c   byte
	}{
		{0o400, 'r'}, {0o200, 'w'}, {0o100, 'x'},
		{0o040, 'r'}, {0o020, 'w'}, {0o010, 'x'},
		{0o004, 'r'}, {0o002, 'w'}, {0o001, 'x'},
	}

	out := make([]byte, len(flags))
	for i, f := range flags {
		if mode&f.bit != 0 {
			out[i] = f.c
		} else {
			out[i] = '-'
		}
	}
	return string(out)
}

// FormatModified renders a modification time for display.
func FormatModified(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04:05")
}
