// Package batch converts every transaction waiting in an Aeon status and
// routes the finished ones onward.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/thoscut/tiffpress/internal/aeon"
	"github.com/thoscut/tiffpress/internal/config"
	"github.com/thoscut/tiffpress/internal/jobs"
	"github.com/thoscut/tiffpress/internal/lock"
	"github.com/thoscut/tiffpress/internal/processor"
)

// ErrBusy is returned when a run is started while another is in progress.
var ErrBusy = errors.New("batch run already in progress")

// Transactions is the part of the Aeon client the runner needs.
type Transactions interface {
	PendingTransactions(ctx context.Context, status string) ([]aeon.Transaction, error)
	Route(ctx context.Context, number int, status string) error
}

// Processor converts one document.
type Processor interface {
	Process(ctx context.Context, job *jobs.Job, profile *config.Profile) (*jobs.Result, error)
}

// Deliverer copies a finished document to extra output targets.
type Deliverer interface {
	Deliver(ctx context.Context, targets []string, path string, doc jobs.Document) ([]string, error)
}

// Options configures a Runner.
type Options struct {
	RootDir           string
	SourceStatus      string
	DestinationStatus string
	MaxConcurrent     int
	Profile           *config.Profile
}

// Outcome of one transaction.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// Item records what happened to one transaction.
type Item struct {
	Transaction int     `json:"transaction"`
	Outcome     Outcome `json:"outcome"`
	Path        string  `json:"path,omitempty"`
	Pages       int     `json:"pages,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// Summary of one run.
type Summary struct {
	Processed int           `json:"processed"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Items     []Item        `json:"items"`
	Duration  time.Duration `json:"duration"`
}

func (s *Summary) add(item Item) {
	switch item.Outcome {
	case OutcomeProcessed:
		s.Processed++
	case OutcomeSkipped:
		s.Skipped++
	case OutcomeFailed:
		s.Failed++
	}
	s.Items = append(s.Items, item)
}

// Runner runs the batch job.
type Runner struct {
	opts    Options
	aeon    Transactions
	locks   *lock.Dir
	proc    Processor
	outputs Deliverer
	running atomic.Bool
	last    atomic.Pointer[Summary]
}

// NewRunner creates a runner. outputs may be nil.
func NewRunner(opts Options, txns Transactions, locks *lock.Dir, proc Processor, outputs Deliverer) *Runner {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	return &Runner{opts: opts, aeon: txns, locks: locks, proc: proc, outputs: outputs}
}

// Run converts every transaction currently in the source status. A failing
// transaction does not stop the others; it keeps its status and its lock is
// released. The returned error is only set when the run could not start.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer r.running.Store(false)

	start := time.Now()
	txns, err := r.aeon.PendingTransactions(ctx, r.opts.SourceStatus)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	slog.Info("batch run started", "transactions", len(txns), "status", r.opts.SourceStatus)

	var (
		mu      sync.Mutex
		summary = &Summary{Items: make([]Item, 0, len(txns))}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.MaxConcurrent)
	for _, txn := range txns {
		txn := txn
		g.Go(func() error {
			item := r.handle(gctx, txn.Number)
			mu.Lock()
			summary.add(item)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	summary.Duration = time.Since(start)
	r.last.Store(summary)
	slog.Info("batch run finished",
		"processed", summary.Processed,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"duration", summary.Duration)
	return summary, nil
}

// Running reports whether a run is in progress.
func (r *Runner) Running() bool { return r.running.Load() }

// Last returns the summary of the most recent completed run, or nil.
func (r *Runner) Last() *Summary { return r.last.Load() }

func (r *Runner) handle(ctx context.Context, number int) Item {
	id := strconv.Itoa(number)
	log := slog.With("doc_id", id)
	item := Item{Transaction: number}

	if err := r.locks.Acquire(id); err != nil {
		if errors.Is(err, lock.ErrAlreadyProcessing) {
			log.Info("transaction already processing, skipping")
			item.Outcome = OutcomeSkipped
			return item
		}
		return failed(log, item, err)
	}
	defer func() {
		if err := r.locks.Release(id); err != nil {
			log.Error("release lock", "error", err)
		}
	}()

	profileName := ""
	if r.opts.Profile != nil {
		profileName = r.opts.Profile.Profile.Name
	}
	job := jobs.NewJob(id, profileName, jobs.OutputConfig{})
	job.Root = filepath.Join(r.opts.RootDir, id)

	result, err := r.proc.Process(ctx, job, r.opts.Profile)
	if err != nil {
		return failed(log, item, err)
	}
	item.Path = result.Path
	item.Pages = result.Pages

	if r.outputs != nil {
		doc := jobs.Document{ID: id, Filename: filepath.Base(result.Path), Title: id}
		if _, err := r.outputs.Deliver(ctx, nil, result.Path, doc); err != nil {
			return failed(log, item, fmt.Errorf("deliver: %w", err))
		}
	}

	if err := r.aeon.Route(ctx, number, r.opts.DestinationStatus); err != nil {
		return failed(log, item, fmt.Errorf("route transaction: %w", err))
	}

	log.Info("transaction processed", "pages", result.Pages, "path", result.Path, "status", r.opts.DestinationStatus)
	item.Outcome = OutcomeProcessed
	return item
}

func failed(log *slog.Logger, item Item, err error) Item {
	log.Error("transaction failed", "error", err)
	item.Outcome = OutcomeFailed
	item.Error = err.Error()
	return item
}

// Watch runs the batch immediately and then every interval until ctx is
// done. Run errors are logged and do not stop the loop.
func (r *Runner) Watch(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("invalid watch interval %s", interval)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := r.Run(ctx); err != nil && !errors.Is(err, ErrBusy) {
			slog.Error("batch run failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

var _ Processor = (*processor.Pipeline)(nil)
