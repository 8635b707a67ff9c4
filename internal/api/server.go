package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/FairForge/armoire/internal/cache"
	"github.com/FairForge/armoire/internal/config"
	"github.com/FairForge/armoire/internal/fileops"
	"github.com/FairForge/armoire/internal/scanner"
	"github.com/FairForge/armoire/internal/security"
	"github.com/FairForge/armoire/internal/trash"
	"github.com/FairForge/armoire/internal/watcher"
)

// Server exposes the engine over HTTP: listings, scans, operations,
// watches and trash. One Server owns one watcher and one cache.
type Server struct {
	config     *config.Config
	logger     *zap.Logger
	metrics    *Metrics
	router     chi.Router
	httpServer *http.Server

	scanner  *scanner.Scanner
	ops      *fileops.FileOperations
	cache    *cache.MetadataCache
	previews *cache.PreviewCache
	watcher  *watcher.Watcher
	hub      *EventHub
	trash    *trash.Trash
	policy   *security.Policy
	jobs     *JobRegistry

	cancel context.CancelFunc

	requestCount int64
	errorCount   int64
	startTime    time.Time
}

// NewServer wires all engine components from the configuration. The
// watcher is constructed but not started; Start owns that.
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	previewDir := cfg.Cache.PreviewDir
	if previewDir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			base = os.TempDir()
		}
		previewDir = filepath.Join(base, "armoire", "previews")
	}
	previews, err := cache.NewPreviewCache(previewDir, cfg.Cache.PreviewBudgetMB, logger)
	if err != nil {
		return nil, fmt.Errorf("create preview cache: %w", err)
	}

	var tr *trash.Trash
	if cfg.Trash.Dir != "" {
		tr, err = trash.NewTrash(cfg.Trash.Dir, logger)
	} else {
		tr, err = trash.Default(logger)
	}
	if err != nil {
		return nil, fmt.Errorf("create trash: %w", err)
	}

	s := &Server{
		config:    cfg,
		logger:    logger,
		metrics:   NewMetrics(),
		scanner:   scanner.NewScanner(cfg.Scanner.FollowSymlinks, cfg.Scanner.MaxDepth, cfg.Scanner.ShowHidden, logger),
		ops:       fileops.NewFileOperations(logger),
		cache:     cache.NewMetadataCache(cfg.Cache.MetadataBudgetMB, logger),
		previews:  previews,
		watcher:   watcher.NewWatcher(cfg.Watcher.DebounceWindow, logger),
		hub:       NewEventHub(logger),
		trash:     tr,
		policy:    security.NewPolicy(logger),
		jobs:      NewJobRegistry(logger),
		router:    chi.NewRouter(),
		startTime: time.Now(),
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming endpoints outlive any fixed budget
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

func (s *Server) setupRoutes() {
	limiter := NewRateLimiter(100, 200)

	s.router.Use(s.loggingMiddleware)
	s.router.Use(limiter.Middleware(s.metrics))

	s.router.Get("/healthz", s.handleHealth)
	s.router.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	s.router.Route("/v1", func(r chi.Router) {
		r.Get("/entries", s.handleEntries)
		r.Get("/metadata", s.handleMetadata)
		r.Post("/scans", s.handleScan)

		r.Post("/operations", s.handleSubmitOperation)
		r.Get("/operations/{id}/progress", s.handleOperationProgress)
		r.Delete("/operations/{id}", s.handleCancelOperation)

		r.Put("/watches", s.handleAddWatch)
		r.Delete("/watches", s.handleRemoveWatch)
		r.Get("/events", s.handleEvents)

		r.Get("/trash", s.handleTrashList)
		r.Post("/trash/{name}/restore", s.handleTrashRestore)
		r.Delete("/trash/{name}", s.handleTrashRemove)
		r.Delete("/trash", s.handleTrashEmpty)

		r.Get("/previews", s.handleGetPreview)
		r.Put("/previews", s.handlePutPreview)
	})
}

// Start brings up the watcher pipeline and the HTTP listener. It
// blocks until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	events := make(chan watcher.Event, s.config.Watcher.EventBuffer)
	if err := s.watcher.Start(events); err != nil {
		cancel()
		return fmt.Errorf("start watcher: %w", err)
	}

	reconcileCh := make(chan watcher.Event, s.config.Watcher.EventBuffer)
	reconciler := watcher.NewReconciler(s.cache, nil, s.logger)
	go reconciler.Run(ctx, reconcileCh)

	go s.hub.Run(ctx, events, func(event watcher.Event) {
		s.metrics.WatcherEvents.WithLabelValues(event.Op.String()).Inc()
		select {
		case reconcileCh <- event:
		default:
			// Reconciler backed up; the entry re-validates on next
			// access anyway.
		}
	})

	s.logger.Info("server starting",
		zap.Int("port", s.config.Server.Port),
		zap.Int("watched", s.watcher.WatchedCount()))

	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the listener, the watcher and the event pipeline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	s.watcher.Stop()
	err := s.httpServer.Shutdown(ctx)
	s.logger.Info("server stopped",
		zap.Int64("requests_served", atomic.LoadInt64(&s.requestCount)),
		zap.Int64("errors", atomic.LoadInt64(&s.errorCount)),
		zap.Duration("uptime", time.Since(s.startTime)))
	return err
}

// Router exposes the handler tree for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush passes through so streaming handlers keep working behind the
// recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		atomic.AddInt64(&s.requestCount, 1)
		if rec.status >= 500 {
			atomic.AddInt64(&s.errorCount, 1)
		}

		elapsed := time.Since(start)
		s.metrics.IncrementRequest(r.Method, r.URL.Path, rec.status)
		s.metrics.RecordLatency(r.Method, r.URL.Path, elapsed.Seconds())

		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", elapsed))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.metrics.CacheHitRate.Set(s.cache.Stats().HitRate())
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","uptime":"%s"}`, time.Since(s.startTime).Round(time.Second))
}
