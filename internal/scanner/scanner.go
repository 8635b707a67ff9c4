package scanner

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/FairForge/armoire/internal/fs"
)

// BatchSize is the target number of entries per delivered batch.
const BatchSize = 100

// Batch is one ordered slice of a scan's results. Exactly one batch
// per scan carries Complete (possibly with no entries); batches are
// never retracted once delivered.
type Batch struct {
	Entries    []fs.Entry `json:"entries"`
	TotalCount int        `json:"total_count"`
	Complete   bool       `json:"complete"`
}

// Scanner streams directory contents as batches over a bounded
// channel. One Scanner is safe to reuse across invocations; each
// invocation is sequential internally.
type Scanner struct {
	followSymlinks bool
	maxDepth       int
	showHidden     bool
	logger         *zap.Logger
}

// NewScanner creates a scanner. maxDepth bounds both recursive descent
// and symlink resolution hops.
func NewScanner(followSymlinks bool, maxDepth int, showHidden bool, logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{
		followSymlinks: followSymlinks,
		maxDepth:       maxDepth,
		showHidden:     showHidden,
		logger:         logger,
	}
}

// Default returns a scanner with the usual file-manager settings:
// follow symlinks, depth 32, hidden entries off.
func Default(logger *zap.Logger) *Scanner {
	return NewScanner(true, 32, false, logger)
}

// Scan produces a complete partition of root's children as batches.
// Cancellation is polled before every directory read and before every
// batch send; on trip the scan returns fs.ErrCancelled immediately,
// abandoning any buffered batch.
func (s *Scanner) Scan(ctx context.Context, root string, results chan<- Batch) error {
	resolved, err := s.resolveRoot(root)
	if err != nil {
		return err
	}

	if ctx.Err() != nil {
		return fs.CancelErr(ctx)
	}

	names, err := os.ReadDir(resolved)
	if err != nil {
		return err
	}

	total := 0
	entries := make([]fs.Entry, 0, BatchSize)

	for _, dirent := range names {
		if ctx.Err() != nil {
			return fs.CancelErr(ctx)
		}

		entry, ok := s.readEntry(filepath.Join(resolved, dirent.Name()))
		if !ok {
			continue
		}
		if !s.showHidden && entry.IsHidden() {
			continue
		}

		entries = append(entries, entry)
		total++

		if len(entries) >= BatchSize {
			if err := send(ctx, results, Batch{Entries: entries, TotalCount: total}); err != nil {
				return err
			}
			entries = make([]fs.Entry, 0, BatchSize)
		}
	}

	return send(ctx, results, Batch{Entries: entries, TotalCount: total, Complete: true})
}

// ScanRecursive walks the subtree under root depth-first, using an
// explicit worklist so arbitrarily deep trees cannot grow the call
// stack. Depth beyond the configured maximum is silently pruned. A
// parent's entries are always flushed before any of its
// subdirectories are visited; sibling order is unspecified.
func (s *Scanner) ScanRecursive(ctx context.Context, root string, results chan<- Batch) error {
	resolved, err := s.resolveRoot(root)
	if err != nil {
		return err
	}

	type workItem struct {
		path  string
		depth int
	}

	total := 0
	stack := []workItem{{path: resolved, depth: 0}}

	for len(stack) > 0 {
		item := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if item.depth >= s.maxDepth {
			continue
		}
		if ctx.Err() != nil {
			return fs.CancelErr(ctx)
		}

		dir := item.path
		if item.depth > 0 {
			// Subdirectories discovered mid-walk can vanish in a race;
			// that is a skipped entry, not a failed scan.
			if err := fs.ValidatePath(dir); err != nil {
				s.logger.Warn("skipping unreadable directory",
					zap.String("path", dir), zap.Error(err))
				continue
			}
		}

		names, err := os.ReadDir(dir)
		if err != nil {
			if item.depth == 0 {
				return err
			}
			s.logger.Warn("skipping unreadable directory",
				zap.String("path", dir), zap.Error(err))
			continue
		}

		entries := make([]fs.Entry, 0, BatchSize)
		var subdirs []string

		for _, dirent := range names {
			if ctx.Err() != nil {
				return fs.CancelErr(ctx)
			}

			entry, ok := s.readEntry(filepath.Join(dir, dirent.Name()))
			if !ok {
				continue
			}
			if !s.showHidden && entry.IsHidden() {
				continue
			}

			if entry.IsDir && !entry.IsSymlink {
				subdirs = append(subdirs, entry.Path)
			}

			entries = append(entries, entry)
			total++

			if len(entries) >= BatchSize {
				if err := send(ctx, results, Batch{Entries: entries, TotalCount: total}); err != nil {
					return err
				}
				entries = make([]fs.Entry, 0, BatchSize)
			}
		}

		if len(entries) > 0 {
			if err := send(ctx, results, Batch{Entries: entries, TotalCount: total}); err != nil {
				return err
			}
		}

		// Reverse push keeps the pop order aligned with the read order.
		for i := len(subdirs) - 1; i >= 0; i-- {
			stack = append(stack, workItem{path: subdirs[i], depth: item.depth + 1})
		}
	}

	return send(ctx, results, Batch{TotalCount: total, Complete: true})
}

func (s *Scanner) resolveRoot(root string) (string, error) {
	if err := fs.ValidatePath(root); err != nil {
		return "", err
	}

	resolved := root
	if s.followSymlinks {
		var err error
		resolved, err = fs.ResolveSymlinks(root, s.maxDepth)
		if err != nil {
			return "", err
		}
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fs.ErrInvalidPath(resolved)
	}

	return resolved, nil
}

// readEntry stats one child. A failure here (typically a race with a
// concurrent delete) is logged and skipped, never fatal to the scan.
func (s *Scanner) readEntry(path string) (fs.Entry, bool) {
	entry, err := fs.EntryFromPath(path)
	if err != nil {
		s.logger.Warn("failed to read entry",
			zap.String("path", path), zap.Error(err))
		return fs.Entry{}, false
	}
	return entry, true
}

func send(ctx context.Context, results chan<- Batch, batch Batch) error {
	select {
	case results <- batch:
		return nil
	case <-ctx.Done():
		return fs.CancelErr(ctx)
	}
}
