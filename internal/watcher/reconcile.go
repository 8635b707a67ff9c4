package watcher

import (
	"context"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/FairForge/armoire/internal/cache"
)

// Reconciler consumes the watcher's event stream and keeps the
// metadata cache honest: it invalidates affected entries and reports
// the directories that need a re-scan. The watcher itself never
// touches the cache.
type Reconciler struct {
	cache    *cache.MetadataCache
	onRescan func(dir string)
	logger   *zap.Logger
}

// NewReconciler wires a cache and a re-scan trigger. onRescan may be
// nil when the caller only wants invalidation.
func NewReconciler(mc *cache.MetadataCache, onRescan func(dir string), logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{cache: mc, onRescan: onRescan, logger: logger}
}

// Run drains events until the stream closes or the context trips.
func (r *Reconciler) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			r.apply(event)
		}
	}
}

func (r *Reconciler) apply(event Event) {
	switch event.Op {
	case Created, Modified:
		if err := r.cache.Invalidate(event.Path); err != nil {
			r.logger.Debug("invalidate failed",
				zap.String("path", event.Path), zap.Error(err))
		}
		r.rescan(filepath.Dir(event.Path))
	case Deleted:
		// The path is gone, so identity can't be re-resolved; the
		// prefix scan also matches the exact path.
		r.cache.InvalidateDirectory(event.Path)
		r.rescan(filepath.Dir(event.Path))
	case Renamed:
		r.cache.InvalidateDirectory(event.From)
		if err := r.cache.Invalidate(event.Path); err != nil {
			r.logger.Debug("invalidate failed",
				zap.String("path", event.Path), zap.Error(err))
		}
		r.rescan(filepath.Dir(event.From))
		if filepath.Dir(event.Path) != filepath.Dir(event.From) {
			r.rescan(filepath.Dir(event.Path))
		}
	}
}

func (r *Reconciler) rescan(dir string) {
	if r.onRescan != nil {
		r.onRescan(dir)
	}
}
