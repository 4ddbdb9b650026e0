package jobs

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DefaultCapacity is the number of jobs that may wait for a worker.
const DefaultCapacity = 100

// Queue holds conversion jobs by ID and hands them to workers in
// submission order. A document has at most one active job.
type Queue struct {
	mu      sync.RWMutex
	jobs    map[string]*Job
	active  map[string]string // document ID -> job ID
	pending chan *Job
}

// NewQueue creates a queue with DefaultCapacity.
func NewQueue() *Queue {
	return NewQueueSize(DefaultCapacity)
}

// NewQueueSize creates a queue that accepts up to capacity waiting jobs.
func NewQueueSize(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		jobs:    make(map[string]*Job),
		active:  make(map[string]string),
		pending: make(chan *Job, capacity),
	}
}

// Submit enqueues job. It fails for a duplicate job ID, for a document that
// already has an active job and when the queue is full.
func (q *Queue) Submit(job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	if other, busy := q.active[job.DocumentID]; busy && job.DocumentID != "" {
		return fmt.Errorf("document %s already has an active job (%s)", job.DocumentID, other)
	}

	select {
	case q.pending <- job:
	default:
		return fmt.Errorf("job queue is full")
	}

	q.jobs[job.ID] = job
	if job.DocumentID != "" {
		q.active[job.DocumentID] = job.ID
	}
	slog.Info("job submitted", "job_id", job.ID, "doc_id", job.DocumentID, "profile", job.Profile)
	return nil
}

// Release frees the document of a finished job for new submissions.
func (q *Queue) Release(job *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.active[job.DocumentID] == job.ID {
		delete(q.active, job.DocumentID)
	}
}

// Get returns a job by ID.
func (q *Queue) Get(id string) (*Job, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	job, ok := q.jobs[id]
	return job, ok
}

// List returns all jobs, oldest first.
func (q *Queue) List() []*Job {
	q.mu.RLock()
	list := make([]*Job, 0, len(q.jobs))
	for _, job := range q.jobs {
		list = append(list, job)
	}
	q.mu.RUnlock()

	sort.Slice(list, func(i, k int) bool {
		return list[i].CreatedAt.Before(list[k].CreatedAt)
	})
	return list
}

// Pending returns the channel workers receive jobs from.
func (q *Queue) Pending() <-chan *Job {
	return q.pending
}

// Cancel cancels a job by ID.
func (q *Queue) Cancel(id string) error {
	job, ok := q.Get(id)
	if !ok {
		return fmt.Errorf("job %s not found", id)
	}

	job.Cancel()
	slog.Info("job cancelled", "job_id", id)
	return nil
}

// Prune forgets finished jobs last updated before cutoff and returns how
// many were dropped.
func (q *Queue) Prune(cutoff time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for id, job := range q.jobs {
		snap := job.Snapshot()
		switch snap.Status {
		case StatusCompleted, StatusFailed, StatusCancelled:
		default:
			continue
		}
		if snap.UpdatedAt.After(cutoff) || q.active[job.DocumentID] == id {
			continue
		}
		delete(q.jobs, id)
		n++
	}
	if n > 0 {
		slog.Debug("pruned finished jobs", "count", n)
	}
	return n
}

// Remove deletes a job from the queue.
func (q *Queue) Remove(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if job, ok := q.jobs[id]; ok && q.active[job.DocumentID] == id {
		delete(q.active, job.DocumentID)
	}
	delete(q.jobs, id)
}
