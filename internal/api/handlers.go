package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/thoscut/tiffpress/internal/batch"
	"github.com/thoscut/tiffpress/internal/config"
	"github.com/thoscut/tiffpress/internal/jobs"
	"github.com/thoscut/tiffpress/internal/version"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Health check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

// Server status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	jobList := s.jobQueue.List()

	activeJobs := 0
	for _, j := range jobList {
		switch j.GetStatus() {
		case jobs.StatusPending, jobs.StatusProcessing:
			activeJobs++
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "ok",
		"version":       version.Version,
		"active_jobs":   activeJobs,
		"total_jobs":    len(jobList),
		"batch":         s.batch != nil,
		"batch_running": s.batch != nil && s.batch.Running(),
		"ocr_engine":    s.cfg.Processing.OCR.Engine,
		"optimizer":     s.cfg.Processing.Optimize.Engine,
	})
}

// Conversion jobs
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req jobs.ConvertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.DocumentID == "" {
		writeError(w, http.StatusBadRequest, "document_id is required")
		return
	}
	if strings.ContainsAny(req.DocumentID, `/\`) || req.DocumentID == "." || req.DocumentID == ".." {
		writeError(w, http.StatusBadRequest, "invalid document_id")
		return
	}

	root := req.Root
	if root == "" {
		root = filepath.Join(s.cfg.Source.RootDir, req.DocumentID)
	}
	if !s.withinRoot(root) {
		writeError(w, http.StatusBadRequest, "root must be inside the source directory")
		return
	}
	for _, p := range req.Pages {
		if !s.withinRoot(p) {
			writeError(w, http.StatusBadRequest, "pages must be inside the source directory")
			return
		}
	}

	profile := req.Profile
	if profile == "" {
		profile = s.cfg.Processing.DefaultProfile
	}
	if _, ok := s.profiles.Get(profile); !ok {
		writeError(w, http.StatusBadRequest, "unknown profile: "+profile)
		return
	}

	output := jobs.OutputConfig{}
	if req.Output != nil {
		if req.Output.Path != "" && !s.withinRoot(req.Output.Path) {
			writeError(w, http.StatusBadRequest, "output path must be inside the source directory")
			return
		}
		output = *req.Output
	}

	job := jobs.NewJob(req.DocumentID, profile, output)
	job.Root = root
	job.Pages = req.Pages
	job.Title = req.Title
	job.OcrEnabled = req.OcrEnabled

	if err := s.jobQueue.Submit(job); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, job.Snapshot())
}

// withinRoot reports whether path lies inside the configured source
// directory.
func (s *Server) withinRoot(path string) bool {
	base := filepath.Clean(s.cfg.Source.RootDir)
	rel, err := filepath.Rel(base, filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	list := s.jobQueue.List()
	out := make([]*jobs.Job, 0, len(list))
	for _, j := range list {
		out = append(out, j.Snapshot())
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": out})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, ok := s.jobQueue.Get(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job.Snapshot())
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if err := s.jobQueue.Cancel(jobID); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleGetJobText(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, ok := s.jobQueue.Get(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	result := job.GetResult()
	if result == nil {
		writeError(w, http.StatusConflict, "job is not completed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"pages": result.Text})
}

// Batch
func (s *Server) handleRunBatch(w http.ResponseWriter, r *http.Request) {
	if s.batch == nil {
		writeError(w, http.StatusServiceUnavailable, "batch job is not configured")
		return
	}
	if s.batch.Running() {
		writeError(w, http.StatusConflict, batch.ErrBusy.Error())
		return
	}

	go func() {
		if _, err := s.batch.Run(s.ctx); err != nil && !errors.Is(err, batch.ErrBusy) {
			slog.Error("batch run failed", "error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	if s.batch == nil {
		writeError(w, http.StatusServiceUnavailable, "batch job is not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"running": s.batch.Running(),
		"last":    s.batch.Last(),
	})
}

// Output
func (s *Server) handleListOutputs(w http.ResponseWriter, r *http.Request) {
	outputs := s.outputs.ListTargets()
	writeJSON(w, http.StatusOK, map[string]interface{}{"outputs": outputs})
}

// Profiles
func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles := s.profiles.List()
	writeJSON(w, http.StatusOK, map[string]interface{}{"profiles": profiles})
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	profile, ok := s.profiles.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, "profile not found")
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	var profile config.Profile
	if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	name := profile.Profile.Name
	if name == "" {
		writeError(w, http.StatusBadRequest, "profile name is required")
		return
	}

	s.profiles.Set(name, &profile)
	writeJSON(w, http.StatusCreated, profile)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, ok := s.profiles.Get(name); !ok {
		writeError(w, http.StatusNotFound, "profile not found")
		return
	}

	var profile config.Profile
	if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	profile.Profile.Name = name

	s.profiles.Set(name, &profile)
	writeJSON(w, http.StatusOK, profile)
}
