package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/FairForge/armoire/internal/cache"
	"github.com/FairForge/armoire/internal/fileops"
	"github.com/FairForge/armoire/internal/fs"
	"github.com/FairForge/armoire/internal/scanner"
)

// maxPreviewUpload bounds a single preview payload.
const maxPreviewUpload = 16 << 20

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var notFound fs.NotFoundError
	var invalid fs.InvalidPathError
	var loop fs.SymlinkLoopError
	var denied fs.PermissionError
	var exists fs.AlreadyExistsError
	switch {
	case errors.As(err, &notFound):
		status = http.StatusNotFound
	case errors.As(err, &invalid), errors.As(err, &loop),
		errors.Is(err, fs.ErrInvalidOperation):
		status = http.StatusBadRequest
	case errors.As(err, &denied):
		status = http.StatusForbidden
	case errors.As(err, &exists):
		status = http.StatusConflict
	case errors.Is(err, ErrJobNotFound):
		status = http.StatusNotFound
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("response encode failed", zap.Error(err))
	}
}

// handleEntries returns a one-shot shallow listing. Entries come
// through the metadata cache, so repeated listings of a hot directory
// skip the per-entry stat.
func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		s.writeError(w, fs.ErrInvalidPath("path parameter required"))
		return
	}
	showHidden := s.config.Scanner.ShowHidden
	if v := r.URL.Query().Get("show_hidden"); v != "" {
		showHidden = v == "true"
	}

	dirents, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.writeError(w, fs.ErrNotFound(path))
			return
		}
		s.writeError(w, err)
		return
	}

	entries := make([]fs.Entry, 0, len(dirents))
	for _, d := range dirents {
		entry, err := s.cache.GetOrFetch(filepath.Join(path, d.Name()))
		if err != nil {
			// Raced with a delete between readdir and stat.
			continue
		}
		if !showHidden && entry.IsHidden() {
			continue
		}
		entries = append(entries, entry)
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		s.writeError(w, fs.ErrInvalidPath("path parameter required"))
		return
	}
	meta, err := fs.ExtendedMetadataFromPath(path)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, meta)
}

type scanRequest struct {
	Path           string `json:"path"`
	Recursive      bool   `json:"recursive"`
	ShowHidden     *bool  `json:"show_hidden,omitempty"`
	FollowSymlinks *bool  `json:"follow_symlinks,omitempty"`
	MaxDepth       int    `json:"max_depth,omitempty"`
}

// handleScan streams batches as NDJSON. The stream ends with a batch
// whose complete flag is set, or aborts when the client goes away.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: decode request: %s", fs.ErrInvalidOperation, err))
		return
	}
	if req.Path == "" {
		s.writeError(w, fs.ErrInvalidPath("path required"))
		return
	}

	followSymlinks := s.config.Scanner.FollowSymlinks
	if req.FollowSymlinks != nil {
		followSymlinks = *req.FollowSymlinks
	}
	showHidden := s.config.Scanner.ShowHidden
	if req.ShowHidden != nil {
		showHidden = *req.ShowHidden
	}
	maxDepth := s.config.Scanner.MaxDepth
	if req.MaxDepth > 0 {
		maxDepth = req.MaxDepth
	}
	sc := scanner.NewScanner(followSymlinks, maxDepth, showHidden, s.logger)

	ctx := r.Context()
	batches := make(chan scanner.Batch, s.config.Scanner.BatchBuffer)
	scanErr := make(chan error, 1)
	go func() {
		if req.Recursive {
			scanErr <- sc.ScanRecursive(ctx, req.Path, batches)
		} else {
			scanErr <- sc.Scan(ctx, req.Path, batches)
		}
		close(batches)
	}()

	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	started := false
	for batch := range batches {
		if !started {
			w.Header().Set("Content-Type", "application/x-ndjson")
			started = true
		}
		s.metrics.ScanBatches.Inc()
		s.metrics.ScanEntries.Add(float64(len(batch.Entries)))
		if err := enc.Encode(batch); err != nil {
			// Client gone; the scan goroutine stops via ctx.
			break
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	for range batches {
	}
	if err := <-scanErr; err != nil && !fs.IsCancelled(err) {
		if !started {
			s.writeError(w, err)
			return
		}
		s.logger.Warn("scan aborted mid-stream",
			zap.String("path", req.Path), zap.Error(err))
	}
}

type operationRequest struct {
	Kind    string   `json:"kind"`
	Sources []string `json:"sources"`
	Dest    string   `json:"dest,omitempty"`
	Policy  string   `json:"policy,omitempty"`
}

type operationResponse struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

// handleSubmitOperation validates and enqueues a copy, move, delete
// or trash job, returning its id immediately.
func (s *Server) handleSubmitOperation(w http.ResponseWriter, r *http.Request) {
	var req operationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: decode request: %s", fs.ErrInvalidOperation, err))
		return
	}
	if len(req.Sources) == 0 {
		s.writeError(w, fmt.Errorf("%w: no sources", fs.ErrInvalidOperation))
		return
	}
	for _, src := range req.Sources {
		if err := s.policy.ValidateOperation(src); err != nil {
			s.writeError(w, err)
			return
		}
	}

	policy := fileops.Skip
	if req.Policy != "" {
		var err error
		policy, err = fileops.ParseConflictPolicy(req.Policy)
		if err != nil {
			s.writeError(w, fmt.Errorf("%w: %s", fs.ErrInvalidOperation, err))
			return
		}
	}

	var run func(ctx context.Context, progress chan<- fileops.Progress) error
	switch req.Kind {
	case "copy":
		if req.Dest == "" {
			s.writeError(w, fmt.Errorf("%w: copy needs dest", fs.ErrInvalidOperation))
			return
		}
		run = func(ctx context.Context, progress chan<- fileops.Progress) error {
			return s.ops.Copy(ctx, req.Sources, req.Dest, policy, progress)
		}
	case "move":
		if req.Dest == "" {
			s.writeError(w, fmt.Errorf("%w: move needs dest", fs.ErrInvalidOperation))
			return
		}
		run = func(ctx context.Context, progress chan<- fileops.Progress) error {
			return s.ops.Move(ctx, req.Sources, req.Dest, policy, progress)
		}
	case "delete":
		run = func(ctx context.Context, progress chan<- fileops.Progress) error {
			return s.ops.Delete(ctx, req.Sources, progress)
		}
	case "trash":
		sources := req.Sources
		run = func(ctx context.Context, progress chan<- fileops.Progress) error {
			for i, src := range sources {
				if err := ctx.Err(); err != nil {
					return fs.CancelErr(ctx)
				}
				if err := s.trash.Put(src); err != nil {
					return err
				}
				p := fileops.Progress{
					CurrentFile:    src,
					FilesProcessed: i + 1,
					TotalFiles:     len(sources),
				}
				select {
				case progress <- p:
				case <-ctx.Done():
					return fs.CancelErr(ctx)
				}
			}
			return nil
		}
	default:
		s.writeError(w, fmt.Errorf("%w: unknown kind %q", fs.ErrInvalidOperation, req.Kind))
		return
	}

	job := s.jobs.Start(req.Kind, s.config.Operations.ProgressBuffer, s.instrumented(req.Kind, run))
	s.writeJSON(w, http.StatusAccepted, operationResponse{ID: job.ID, Kind: job.Kind})
}

// instrumented wraps an operation so byte throughput and the final
// outcome land in the metrics registry.
func (s *Server) instrumented(kind string, run func(ctx context.Context, progress chan<- fileops.Progress) error) func(ctx context.Context, progress chan<- fileops.Progress) error {
	return func(ctx context.Context, progress chan<- fileops.Progress) error {
		proxy := make(chan fileops.Progress, 16)
		done := make(chan struct{})
		go func() {
			defer close(done)
			var lastBytes int64
			for p := range proxy {
				if d := p.CurrentBytes - lastBytes; d > 0 {
					s.metrics.OperationBytes.Add(float64(d))
					lastBytes = p.CurrentBytes
				}
				progress <- p
			}
		}()
		err := run(ctx, proxy)
		close(proxy)
		<-done

		switch {
		case err == nil:
			s.metrics.RecordOperation(kind, "completed")
		case fs.IsCancelled(err):
			s.metrics.RecordOperation(kind, "cancelled")
		default:
			s.metrics.RecordOperation(kind, "failed")
		}
		return err
	}
}

// handleOperationProgress streams NDJSON progress frames until the
// job reaches a terminal state or the client disconnects.
func (s *Server) handleOperationProgress(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	updates := job.Subscribe()
	defer job.Unsubscribe(updates)

	w.Header().Set("Content-Type", "application/x-ndjson")
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if err := enc.Encode(update); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
			if update.Status != JobRunning {
				return
			}
		}
	}
}

func (s *Server) handleCancelOperation(w http.ResponseWriter, r *http.Request) {
	if err := s.jobs.Cancel(chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type watchRequest struct {
	Path string `json:"path"`
}

func (s *Server) handleAddWatch(w http.ResponseWriter, r *http.Request) {
	var req watchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: decode request: %s", fs.ErrInvalidOperation, err))
		return
	}
	if req.Path == "" {
		s.writeError(w, fs.ErrInvalidPath("path required"))
		return
	}
	if err := s.watcher.Watch(req.Path); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveWatch(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		s.writeError(w, fs.ErrInvalidPath("path parameter required"))
		return
	}
	if err := s.watcher.Unwatch(path); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleEvents streams debounced change events as NDJSON until the
// client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	events := s.hub.Subscribe()
	defer s.hub.Unsubscribe(events)

	w.Header().Set("Content-Type", "application/x-ndjson")
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := enc.Encode(event); err != nil {
				return
			}
			if flusher, ok := w.(http.Flusher); ok {
				flusher.Flush()
			}
		}
	}
}

func (s *Server) handleTrashList(w http.ResponseWriter, _ *http.Request) {
	items, err := s.trash.List()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleTrashRestore(w http.ResponseWriter, r *http.Request) {
	restored, err := s.trash.Restore(chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"restored_to": restored})
}

func (s *Server) handleTrashRemove(w http.ResponseWriter, r *http.Request) {
	if err := s.trash.Remove(chi.URLParam(r, "name")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTrashEmpty(w http.ResponseWriter, _ *http.Request) {
	if err := s.trash.Empty(); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parsePreviewSize(v string) (cache.PreviewSize, error) {
	switch v {
	case "", "normal":
		return cache.PreviewNormal, nil
	case "large":
		return cache.PreviewLarge, nil
	default:
		return 0, fmt.Errorf("%w: unknown preview size %q", fs.ErrInvalidOperation, v)
	}
}

func (s *Server) handleGetPreview(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		s.writeError(w, fs.ErrInvalidPath("path parameter required"))
		return
	}
	size, err := parsePreviewSize(r.URL.Query().Get("size"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	data, ok := s.previews.Get(path, size)
	if !ok {
		s.writeError(w, fs.ErrNotFound(path))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(data)
}

// handlePutPreview stores a rendered thumbnail. The frontend renders,
// the engine caches.
func (s *Server) handlePutPreview(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		s.writeError(w, fs.ErrInvalidPath("path parameter required"))
		return
	}
	if !cache.SupportedFormat(path) {
		http.Error(w, "unsupported source format", http.StatusUnsupportedMediaType)
		return
	}
	size, err := parsePreviewSize(r.URL.Query().Get("size"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPreviewUpload))
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: read body: %s", fs.ErrInvalidOperation, err))
		return
	}
	if err := s.previews.Put(path, size, data); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
