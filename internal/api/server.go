package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/thoscut/tiffpress/internal/batch"
	"github.com/thoscut/tiffpress/internal/config"
	"github.com/thoscut/tiffpress/internal/jobs"
	"github.com/thoscut/tiffpress/internal/output"
)

// Finished jobs are forgotten after jobRetention.
const jobRetention = 24 * time.Hour

// Processor converts the document of a job.
type Processor interface {
	Process(ctx context.Context, job *jobs.Job, profile *config.Profile) (*jobs.Result, error)
}

// Server is the HTTP API server.
type Server struct {
	cfg       *config.Config
	router    chi.Router
	jobQueue  *jobs.Queue
	profiles  *config.ProfileStore
	processor Processor
	outputs   *output.Manager
	batch     *batch.Runner
	wsHub     *WebSocketHub
	server    *http.Server

	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates a new API server. runner may be nil when the batch job
// is not configured.
func NewServer(cfg *config.Config, q *jobs.Queue, profiles *config.ProfileStore, proc Processor, outputs *output.Manager, runner *batch.Runner) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:       cfg,
		jobQueue:  q,
		profiles:  profiles,
		processor: proc,
		outputs:   outputs,
		batch:     runner,
		wsHub:     NewWebSocketHub(),
		ctx:       ctx,
		cancel:    cancel,
	}

	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(CORSMiddleware())

	// Health check (no auth required)
	r.Get("/api/v1/health", s.handleHealth)

	// API routes (with auth)
	r.Group(func(r chi.Router) {
		if s.cfg.Server.Auth.Enabled {
			r.Use(AuthMiddleware(s.cfg.Server.Auth))
		}

		// Conversion jobs
		r.Post("/api/v1/jobs", s.handleCreateJob)
		r.Get("/api/v1/jobs", s.handleListJobs)
		r.Get("/api/v1/jobs/{jobID}", s.handleGetJob)
		r.Delete("/api/v1/jobs/{jobID}", s.handleCancelJob)
		r.Get("/api/v1/jobs/{jobID}/text", s.handleGetJobText)

		// Batch
		r.Post("/api/v1/batch/run", s.handleRunBatch)
		r.Get("/api/v1/batch", s.handleBatchStatus)

		// Output
		r.Get("/api/v1/outputs", s.handleListOutputs)

		// Profiles
		r.Get("/api/v1/profiles", s.handleListProfiles)
		r.Get("/api/v1/profiles/{name}", s.handleGetProfile)
		r.Post("/api/v1/profiles", s.handleCreateProfile)
		r.Put("/api/v1/profiles/{name}", s.handleUpdateProfile)

		// System
		r.Get("/api/v1/status", s.handleStatus)

		// WebSocket
		r.Get("/api/v1/ws", s.handleWebSocket)
	})

	s.router = r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Start begins listening for HTTP connections.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start WebSocket hub
	go s.wsHub.Run(s.ctx)

	// Start job worker
	go s.jobWorker()

	slog.Info("API server starting", "addr", addr)

	var err error
	if s.cfg.Server.TLS.Enabled {
		err = s.server.ListenAndServeTLS(
			s.cfg.Server.TLS.CertFile,
			s.cfg.Server.TLS.KeyFile,
		)
	} else {
		err = s.server.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server and cancels running work.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("API server shutting down")
	s.cancel()
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// jobWorker processes jobs from the queue one at a time.
func (s *Server) jobWorker() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case job := <-s.jobQueue.Pending():
			s.processJob(job)
		}
	}
}

func (s *Server) processJob(job *jobs.Job) {
	defer func() {
		s.jobQueue.Release(job)
		s.jobQueue.Prune(time.Now().Add(-jobRetention))
	}()

	if job.Cancelled() {
		slog.Info("skipping cancelled job", "job_id", job.ID)
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	job.SetCancel(cancel)
	defer cancel()

	stop := s.relayProgress(job)
	defer stop()

	slog.Info("processing job", "job_id", job.ID, "doc_id", job.DocumentID, "profile", job.Profile)

	profile, ok := s.profiles.Get(job.Profile)
	if !ok {
		job.SetError(fmt.Errorf("profile %q not found", job.Profile))
		s.broadcastJobUpdate(job)
		return
	}

	job.SetStatus(jobs.StatusProcessing)
	s.broadcastJobUpdate(job)

	result, err := s.processor.Process(ctx, job, profile)
	if err != nil {
		if job.Cancelled() {
			s.broadcastJobUpdate(job)
			return
		}
		job.SetError(fmt.Errorf("processing failed: %w", err))
		s.broadcastJobUpdate(job)
		return
	}

	doc := jobs.Document{ID: job.DocumentID, Filename: filepath.Base(result.Path), Title: job.Title}
	delivered, err := s.outputs.Deliver(ctx, job.Output.Targets, result.Path, doc)
	if err != nil {
		job.SetError(fmt.Errorf("output failed: %w", err))
		s.broadcastJobUpdate(job)
		return
	}
	result.Delivered = delivered

	job.Complete(result)
	job.SendProgress(jobs.ProgressUpdate{
		Type:     "completed",
		Progress: 100,
		Message:  "Document processed and delivered",
	})
	s.broadcastJobUpdate(job)
	slog.Info("job completed", "job_id", job.ID, "doc_id", job.DocumentID, "pages", result.Pages)
}

// relayProgress forwards the page progress of job to WebSocket clients
// until the returned function is called. Updates still buffered at that
// point are flushed.
func (s *Server) relayProgress(job *jobs.Job) func() {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case u := <-job.ProgressChan():
				s.wsHub.Broadcast(u)
			case <-stop:
				for {
					select {
					case u := <-job.ProgressChan():
						s.wsHub.Broadcast(u)
					default:
						return
					}
				}
			}
		}
	}()
	return func() {
		close(stop)
		<-done
	}
}

func (s *Server) broadcastJobUpdate(job *jobs.Job) {
	snap := job.Snapshot()
	s.wsHub.Broadcast(jobs.ProgressUpdate{
		Type:     "job_update",
		JobID:    snap.ID,
		Status:   string(snap.Status),
		Progress: snap.Progress,
		Message:  string(snap.Status),
		Error:    snap.Error,
	})
}
