package jobs

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the current state of a conversion job.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
)

// Job converts the page images of one document into a PDF.
type Job struct {
	ID         string       `json:"id"`
	DocumentID string       `json:"document_id"`
	Root       string       `json:"root,omitempty"`
	Pages      []string     `json:"pages,omitempty"`
	Title      string       `json:"title,omitempty"`
	Status     JobStatus    `json:"status"`
	Profile    string       `json:"profile"`
	Progress   int          `json:"progress"`
	Message    string       `json:"message,omitempty"`
	Error      string       `json:"error,omitempty"`
	Output     OutputConfig `json:"output"`
	OcrEnabled *bool        `json:"ocr_enabled,omitempty"`
	Result     *Result      `json:"result,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`

	mu       sync.RWMutex
	cancel   context.CancelFunc
	progress chan ProgressUpdate
}

// OutputConfig defines where to put the finished document. An empty Path
// means <root>/service_edited/<document id>.pdf.
type OutputConfig struct {
	Path    string   `json:"path,omitempty"`
	Targets []string `json:"targets,omitempty"`
}

// PageText is the recognized text of one page.
type PageText struct {
	Page       int     `json:"page"`
	File       string  `json:"file"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Result describes a finished document.
type Result struct {
	Path      string     `json:"path"`
	Pages     int        `json:"pages"`
	Size      int64      `json:"size"`
	RawSize   int64      `json:"raw_size"`
	Text      []PageText `json:"text,omitempty"`
	Delivered []string   `json:"delivered,omitempty"`
}

// ConvertRequest is an incoming conversion request from the API.
type ConvertRequest struct {
	DocumentID string        `json:"document_id"`
	Root       string        `json:"root,omitempty"`
	Pages      []string      `json:"pages,omitempty"`
	Title      string        `json:"title,omitempty"`
	Profile    string        `json:"profile,omitempty"`
	Output     *OutputConfig `json:"output,omitempty"`
	OcrEnabled *bool         `json:"ocr_enabled,omitempty"`
}

// ProgressUpdate is sent via WebSocket to report job progress.
type ProgressUpdate struct {
	Type     string `json:"type"`
	JobID    string `json:"job_id"`
	Status   string `json:"status,omitempty"`
	Page     int    `json:"page,omitempty"`
	Pages    int    `json:"pages,omitempty"`
	Progress int    `json:"progress,omitempty"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Document represents a finished document ready for output.
type Document struct {
	ID       string
	Filename string
	Title    string
	Reader   io.Reader
	Size     int64
}

// NewJob creates a new job with default values.
func NewJob(documentID, profile string, output OutputConfig) *Job {
	now := time.Now()
	return &Job{
		ID:         uuid.New().String(),
		DocumentID: documentID,
		Status:     StatusPending,
		Profile:    profile,
		Output:     output,
		CreatedAt:  now,
		UpdatedAt:  now,
		progress:   make(chan ProgressUpdate, 100),
	}
}

// SetStatus updates the job status thread-safely.
func (j *Job) SetStatus(status JobStatus) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	j.UpdatedAt = time.Now()
}

// GetStatus returns the current status.
func (j *Job) GetStatus() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// SetError marks the job as failed with an error message.
func (j *Job) SetError(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = StatusFailed
	j.Error = err.Error()
	j.UpdatedAt = time.Now()
}

// Complete stores the result and marks the job completed.
func (j *Job) Complete(result *Result) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = StatusCompleted
	j.Result = result
	j.Progress = 100
	j.UpdatedAt = time.Now()
}

// GetResult returns the result of a completed job.
func (j *Job) GetResult() *Result {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Result
}

// Snapshot returns a copy of the job's exported state for serialization.
func (j *Job) Snapshot() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return &Job{
		ID:         j.ID,
		DocumentID: j.DocumentID,
		Root:       j.Root,
		Pages:      j.Pages,
		Title:      j.Title,
		Status:     j.Status,
		Profile:    j.Profile,
		Progress:   j.Progress,
		Message:    j.Message,
		Error:      j.Error,
		Output:     j.Output,
		OcrEnabled: j.OcrEnabled,
		Result:     j.Result,
		CreatedAt:  j.CreatedAt,
		UpdatedAt:  j.UpdatedAt,
	}
}

// SetCancel stores the cancel function for the job context.
func (j *Job) SetCancel(cancel context.CancelFunc) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cancel = cancel
}

// Cancel cancels the job. Finished jobs keep their status.
func (j *Job) Cancel() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancel != nil {
		j.cancel()
	}
	if j.Status == StatusCompleted || j.Status == StatusFailed {
		return
	}
	j.Status = StatusCancelled
	j.UpdatedAt = time.Now()
}

// Cancelled reports whether the job was cancelled.
func (j *Job) Cancelled() bool {
	return j.GetStatus() == StatusCancelled
}

// SendProgress records a progress update and forwards it to subscribers.
func (j *Job) SendProgress(update ProgressUpdate) {
	update.JobID = j.ID

	j.mu.Lock()
	if update.Progress > 0 {
		j.Progress = update.Progress
	}
	if update.Message != "" {
		j.Message = update.Message
	}
	j.UpdatedAt = time.Now()
	j.mu.Unlock()

	select {
	case j.progress <- update:
	default:
		// Channel full, drop update
	}
}

// ProgressChan returns the progress channel for this job.
func (j *Job) ProgressChan() <-chan ProgressUpdate {
	return j.progress
}
