package fileops

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/FairForge/armoire/internal/fs"
)

// CopyBufferSize is the fixed transfer-chunk size. In-flight I/O for
// one chunk always finishes before the cancellation check, so cancel
// latency is bounded by one chunk of work.
const CopyBufferSize = 1 << 20

// maxRenameAttempts bounds the unique-name probe for the Rename policy.
const maxRenameAttempts = 9999

// Progress is a snapshot of one operation invocation. Values are
// monotonically non-decreasing within an invocation and reset at the
// start of the next.
type Progress struct {
	CurrentBytes   int64  `json:"current_bytes"`
	TotalBytes     int64  `json:"total_bytes"`
	CurrentFile    string `json:"current_file"`
	FilesProcessed int    `json:"files_processed"`
	TotalFiles     int    `json:"total_files"`
}

// ConflictPolicy governs destination-collision behavior for copy and
// move. The set is closed: no other resolution exists.
type ConflictPolicy int

const (
	Skip ConflictPolicy = iota
	Overwrite
	Rename
)

func (p ConflictPolicy) String() string {
	switch p {
	case Skip:
		return "skip"
	case Overwrite:
		return "overwrite"
	case Rename:
		return "rename"
	default:
		return "unknown"
	}
}

// ParseConflictPolicy maps the wire names onto the closed enum.
func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	switch s {
	case "skip":
		return Skip, nil
	case "overwrite":
		return Overwrite, nil
	case "rename":
		return Rename, nil
	default:
		return Skip, fmt.Errorf("%w: unknown conflict policy %q", fs.ErrInvalidOperation, s)
	}
}

// FileOperations executes copy, move, and delete with streamed
// progress and cooperative cancellation. Failures abort the remaining
// items of that invocation; callers wanting partial success retry per
// item.
type FileOperations struct {
	logger     *zap.Logger
	bufferSize int

	// sameFS reports whether two paths share a device, injectable
	// for tests that need to force the cross-filesystem path.
	sameFS func(a, b string) (bool, error)
}

// NewFileOperations creates the operation executor.
func NewFileOperations(logger *zap.Logger) *FileOperations {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileOperations{
		logger:     logger,
		bufferSize: CopyBufferSize,
		sameFS:     fs.SameFilesystem,
	}
}

// counters is shared across one invocation's whole call tree so a
// progress snapshot can be read without synchronizing with the writer.
type counters struct {
	bytes      atomic.Int64
	files      atomic.Int64
	totalBytes int64
	totalFiles int
}

// Copy copies every source into destDir. The aggregate byte total is
// computed up front so progress is a stable fraction.
func (o *FileOperations) Copy(ctx context.Context, sources []string, destDir string, policy ConflictPolicy, progress chan<- Progress) error {
	info, err := os.Stat(destDir)
	if err != nil || !info.IsDir() {
		return fs.ErrInvalidPath(destDir)
	}

	totalBytes, err := totalSize(sources)
	if err != nil {
		return err
	}

	c := &counters{totalBytes: totalBytes, totalFiles: len(sources)}

	for _, source := range sources {
		if ctx.Err() != nil {
			return fs.CancelErr(ctx)
		}

		dest, skip, err := resolveDestination(source, destDir, policy)
		if err != nil {
			return err
		}
		if skip {
			continue
		}

		if err := o.copyPath(ctx, source, dest, policy, c, progress); err != nil {
			return err
		}
	}

	return nil
}

// Move renames each source into destDir when both share a filesystem;
// otherwise it falls back to copy-then-remove. The fallback is not
// atomic: an interruption can leave both the original and a partial
// copy present, and reconciliation is the caller's responsibility.
func (o *FileOperations) Move(ctx context.Context, sources []string, destDir string, policy ConflictPolicy, progress chan<- Progress) error {
	info, err := os.Stat(destDir)
	if err != nil || !info.IsDir() {
		return fs.ErrInvalidPath(destDir)
	}

	for _, source := range sources {
		if ctx.Err() != nil {
			return fs.CancelErr(ctx)
		}

		name := filepath.Base(source)
		if name == "." || name == string(filepath.Separator) {
			return fs.ErrInvalidPath(source)
		}
		dest := filepath.Join(destDir, name)

		same, err := o.sameFS(source, destDir)
		if err != nil {
			return err
		}

		if same {
			if _, err := os.Lstat(dest); err == nil {
				switch policy {
				case Skip:
					continue
				case Overwrite:
					if err := os.RemoveAll(dest); err != nil {
						return err
					}
				case Rename:
					renamed, err := uniqueName(dest)
					if err != nil {
						return err
					}
					if err := os.Rename(source, renamed); err != nil {
						return err
					}
					continue
				}
			}
			if err := os.Rename(source, dest); err != nil {
				return err
			}
			continue
		}

		o.logger.Debug("cross-filesystem move, falling back to copy",
			zap.String("source", source), zap.String("dest", destDir))

		// A Skip collision copies nothing; the source stays.
		if policy == Skip {
			if _, err := os.Lstat(dest); err == nil {
				continue
			}
		}
		if err := o.Copy(ctx, []string{source}, destDir, policy, progress); err != nil {
			return err
		}
		if err := os.RemoveAll(source); err != nil {
			return err
		}
	}

	return nil
}

// Delete removes files, and directories recursively. Irreversible at
// this layer; trash semantics live elsewhere.
func (o *FileOperations) Delete(ctx context.Context, paths []string, progress chan<- Progress) error {
	totalFiles := len(paths)
	processed := 0

	for _, path := range paths {
		if ctx.Err() != nil {
			return fs.CancelErr(ctx)
		}

		info, err := os.Lstat(path)
		if err != nil {
			if os.IsNotExist(err) {
				return fs.ErrNotFound(path)
			}
			return err
		}

		if info.IsDir() {
			err = os.RemoveAll(path)
		} else {
			err = os.Remove(path)
		}
		if err != nil {
			return err
		}

		processed++
		if err := sendProgress(ctx, progress, Progress{
			CurrentFile:    path,
			FilesProcessed: processed,
			TotalFiles:     totalFiles,
		}); err != nil {
			return err
		}
	}

	return nil
}

// resolveDestination applies the conflict policy to one collision.
func resolveDestination(source, destDir string, policy ConflictPolicy) (dest string, skip bool, err error) {
	name := filepath.Base(source)
	if name == "." || name == string(filepath.Separator) {
		return "", false, fs.ErrInvalidPath(source)
	}
	dest = filepath.Join(destDir, name)

	if _, statErr := os.Lstat(dest); statErr != nil {
		return dest, false, nil
	}

	switch policy {
	case Skip:
		return "", true, nil
	case Overwrite:
		return dest, false, nil
	case Rename:
		renamed, err := uniqueName(dest)
		if err != nil {
			return "", false, err
		}
		return renamed, false, nil
	default:
		return dest, false, nil
	}
}

func (o *FileOperations) copyPath(ctx context.Context, src, dest string, policy ConflictPolicy, c *counters, progress chan<- Progress) error {
	info, err := os.Stat(src)
	if err != nil {
		if os.IsNotExist(err) {
			return fs.ErrNotFound(src)
		}
		return err
	}

	if info.IsDir() {
		return o.copyDirectory(ctx, src, dest, policy, c, progress)
	}
	return o.copyFile(ctx, src, dest, info, c, progress)
}

func (o *FileOperations) copyDirectory(ctx context.Context, src, dest string, policy ConflictPolicy, c *counters, progress chan<- Progress) error {
	if err := os.MkdirAll(dest, 0o750); err != nil {
		return err
	}

	names, err := os.ReadDir(src)
	if err != nil {
		return err
	}

	for _, dirent := range names {
		if ctx.Err() != nil {
			return fs.CancelErr(ctx)
		}

		srcPath := filepath.Join(src, dirent.Name())
		destPath := filepath.Join(dest, dirent.Name())

		// The per-entry policy applies to every descendant, not only
		// the top-level sources.
		if _, statErr := os.Lstat(destPath); statErr == nil {
			switch policy {
			case Skip:
				if !dirent.IsDir() {
					continue
				}
			case Overwrite:
			case Rename:
				if !dirent.IsDir() {
					renamed, err := uniqueName(destPath)
					if err != nil {
						return err
					}
					destPath = renamed
				}
			}
		}

		if err := o.copyPath(ctx, srcPath, destPath, policy, c, progress); err != nil {
			return err
		}
	}

	return nil
}

func (o *FileOperations) copyFile(ctx context.Context, src, dest string, info os.FileInfo, c *counters, progress chan<- Progress) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = srcFile.Close() }()

	destFile, err := os.Create(dest)
	if err != nil {
		return err
	}

	buffer := make([]byte, o.bufferSize)

	for {
		if ctx.Err() != nil {
			// Best-effort removal of the partial destination.
			_ = destFile.Close()
			_ = os.Remove(dest)
			return fs.CancelErr(ctx)
		}

		n, readErr := srcFile.Read(buffer)
		if n > 0 {
			if _, err := destFile.Write(buffer[:n]); err != nil {
				_ = destFile.Close()
				return err
			}

			current := c.bytes.Add(int64(n))
			if err := sendProgress(ctx, progress, Progress{
				CurrentBytes:   current,
				TotalBytes:     c.totalBytes,
				CurrentFile:    src,
				FilesProcessed: int(c.files.Load()),
				TotalFiles:     c.totalFiles,
			}); err != nil {
				_ = destFile.Close()
				_ = os.Remove(dest)
				return err
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			_ = destFile.Close()
			return readErr
		}
	}

	if err := destFile.Close(); err != nil {
		return err
	}

	// Permission bits follow the source after a successful transfer.
	if err := os.Chmod(dest, info.Mode().Perm()); err != nil {
		return err
	}

	c.files.Add(1)
	return nil
}

// uniqueName probes "<stem> (<n>).<ext>" siblings until one is free.
func uniqueName(path string) (string, error) {
	dir := filepath.Dir(path)
	stem := filepath.Base(path)
	ext := filepath.Ext(stem)
	// A dotfile's leading dot is stem, not extension.
	if ext == stem {
		ext = ""
	}
	stem = stem[:len(stem)-len(ext)]

	for n := 1; n <= maxRenameAttempts; n++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, n, ext))
		if _, err := os.Lstat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("%w: no unique name for %s after %d attempts",
		fs.ErrInvalidOperation, path, maxRenameAttempts)
}

// totalSize sums the byte sizes of the sources, recursing into
// directories with an explicit worklist.
func totalSize(paths []string) (int64, error) {
	var total int64
	stack := append([]string(nil), paths...)

	for len(stack) > 0 {
		path := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				return 0, fs.ErrNotFound(path)
			}
			return 0, err
		}

		if !info.IsDir() {
			total += info.Size()
			continue
		}

		names, err := os.ReadDir(path)
		if err != nil {
			return 0, err
		}
		for _, dirent := range names {
			stack = append(stack, filepath.Join(path, dirent.Name()))
		}
	}

	return total, nil
}

// sendProgress delivers one snapshot; a consumer that stopped draining
// and cancelled the context reads as an implicit cancellation.
func sendProgress(ctx context.Context, progress chan<- Progress, p Progress) error {
	select {
	case progress <- p:
		return nil
	case <-ctx.Done():
		return fs.CancelErr(ctx)
	}
}
