// Package server exposes runs over HTTP: start, list, inspect and cancel
// them, check the key, preview result counts, and stream progress over a
// websocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"pexelsync/pkg/config"
	"pexelsync/pkg/logger"
	"pexelsync/pkg/metrics"
	"pexelsync/pkg/models"
	"pexelsync/pkg/pexels"
	"pexelsync/pkg/pipeline"
)

// Runner executes runs; *pipeline.Runner implements it
type Runner interface {
	RunWithObserver(ctx context.Context, runID string, req models.SearchRequest, target models.Target, obs pipeline.Observer) (models.RunSummary, error)
}

// Provider is the part of the Pexels client the API exposes
type Provider interface {
	CheckKey(ctx context.Context) error
	Count(ctx context.Context, query string) (*pexels.CountResult, error)
}

// Deps are the collaborators of a Server
type Deps struct {
	Runner   Runner
	Provider Provider
	Metrics  *metrics.Metrics
	// Defaults fills the zero fields of submitted requests
	Defaults models.SearchRequest
	// Target is used when a request names no project or dataset
	Target models.Target
}

// Server is the HTTP control API
type Server struct {
	deps       Deps
	cfg        config.ServerConfig
	log        logger.Logger
	hub        *Hub
	runs       *registry
	router     chi.Router
	httpServer *http.Server
	now        func() time.Time

	// runCtx is the parent of every run; it outlives request contexts
	runCtx    context.Context
	cancelAll context.CancelFunc
}

// New creates a Server with its routes
func New(cfg config.ServerConfig, deps Deps, log logger.Logger) *Server {
	if log == nil {
		log = logger.GetLogger()
	}
	runCtx, cancel := context.WithCancel(context.Background())

	s := &Server{
		deps:      deps,
		cfg:       cfg,
		log:       log.WithField("component", "server"),
		hub:       NewHub(log),
		runs:      newRegistry(),
		now:       time.Now,
		runCtx:    runCtx,
		cancelAll: cancel,
	}
	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if s.deps.Metrics != nil {
		r.Use(s.deps.Metrics.Middleware(routePattern))
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())
	}

	r.Get("/healthz", s.handleHealth)
	r.Get("/ws", s.hub.ServeWS)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/key/check", s.handleKeyCheck)
		r.Get("/count", s.handleCount)

		r.Route("/runs", func(r chi.Router) {
			r.Post("/", s.handleCreateRun)
			r.Get("/", s.handleListRuns)
			r.Get("/{id}", s.handleGetRun)
			r.Post("/{id}/cancel", s.handleCancelRun)
		})
	})
	return r
}

// routePattern labels metrics by chi route instead of raw path
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// StartRun validates req and starts it in the background
func (s *Server) StartRun(req models.SearchRequest, target models.Target) (RunState, error) {
	req = s.withDefaults(req)
	if err := req.Validate(); err != nil {
		return RunState{}, err
	}
	if target.ProjectID == 0 && target.DatasetID == 0 && target.WorkspaceID == 0 {
		target.WorkspaceID = s.deps.Target.WorkspaceID
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(s.runCtx)
	state := RunState{
		ID:        id,
		Request:   req,
		Target:    target,
		Status:    models.StatusRunning,
		CreatedAt: s.now(),
	}
	s.runs.add(state, cancel)

	obs := &runObserver{id: id, reg: s.runs, hub: s.hub, now: s.now}
	go func() {
		summary, err := s.deps.Runner.RunWithObserver(ctx, id, req, target, obs)
		if err != nil && !errors.Is(err, pipeline.ErrNoImages) {
			s.log.WithError(err).WithField("run_id", id).Warn("Run ended with an error")
		}
		s.runs.finish(id, summary)
	}()

	s.log.InfoWithFields("Run submitted", map[string]interface{}{"run_id": id, "query": req.Query})
	return state, nil
}

func (s *Server) withDefaults(req models.SearchRequest) models.SearchRequest {
	d := s.deps.Defaults
	if req.Size == "" {
		req.Size = d.Size
	}
	if req.Fields == nil {
		req.Fields = d.Fields
	}
	if req.Method == "" {
		req.Method = d.Method
	}
	if req.BatchSize == 0 {
		req.BatchSize = d.BatchSize
	}
	if req.Workers == 0 {
		req.Workers = d.Workers
	}
	if req.Count == 0 {
		req.Count = d.Count
	}
	return req
}

// Run serves until ctx is done, then stops accepting requests, cancels
// running runs and waits for them to record their summaries
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go s.hub.Run(hubCtx)

	g.Go(func() error {
		logger.LogComponentStart(s.log, "server", map[string]interface{}{"addr": s.cfg.Addr})
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		err := s.httpServer.Shutdown(shutdownCtx)
		s.runs.cancelAll()
		if werr := s.runs.wait(shutdownCtx); werr != nil {
			s.log.WithError(werr).Warn("Runs still active at shutdown")
		}
		s.cancelAll()
		logger.LogComponentStop(s.log, "server", "shutdown")
		return err
	})

	return g.Wait()
}
