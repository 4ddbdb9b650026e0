// Package output delivers finished documents to additional targets.
package output

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/thoscut/tiffpress/internal/awsconf"
	"github.com/thoscut/tiffpress/internal/config"
	"github.com/thoscut/tiffpress/internal/jobs"
)

// Handler is the interface for all output targets.
type Handler interface {
	Name() string
	Send(ctx context.Context, doc *jobs.Document) error
	Available() bool
}

// Target describes a configured output target.
type Target struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Enabled   bool   `json:"enabled"`
	Available bool   `json:"available"`
}

// Manager routes documents to the appropriate output handler.
type Manager struct {
	handlers map[string]Handler
	defaults []string
}

// NewManager creates a new output manager from the configuration.
func NewManager(ctx context.Context, cfg *config.Config) (*Manager, error) {
	m := &Manager{
		handlers: make(map[string]Handler),
		defaults: cfg.Output.Targets,
	}

	// Filesystem is always available
	m.handlers["filesystem"] = NewFilesystemHandler(cfg.Source.OutputDir)

	if cfg.Output.SMB.Enabled {
		h, err := NewSMBHandler(cfg.Output.SMB)
		if err != nil {
			return nil, err
		}
		m.handlers["smb"] = h
	}

	if cfg.Output.S3.Enabled {
		awsCfg, err := awsconf.Load(ctx, cfg.AWS)
		if err != nil {
			return nil, err
		}
		m.handlers["s3"] = NewS3Handler(awsconf.NewS3Client(awsCfg, cfg.AWS), cfg.Output.S3)
	}

	slog.Info("output handlers initialized", "count", len(m.handlers))
	return m, nil
}

// Register adds or replaces a handler.
func (m *Manager) Register(h Handler) {
	m.handlers[h.Name()] = h
}

// Send routes a document to the specified output target.
func (m *Manager) Send(ctx context.Context, target string, doc *jobs.Document) error {
	handler, ok := m.handlers[target]
	if !ok {
		return fmt.Errorf("unknown output target: %s", target)
	}

	slog.Info("sending document to output",
		"target", target,
		"doc_id", doc.ID,
		"filename", doc.Filename,
		"size", doc.Size)

	if err := handler.Send(ctx, doc); err != nil {
		return fmt.Errorf("output %s: %w", target, err)
	}

	slog.Info("document sent successfully", "target", target, "doc_id", doc.ID)
	return nil
}

// Deliver copies the finished file at path to each target, or to the
// configured default targets when none are given. Unavailable targets are
// skipped. It returns the targets that received the document.
func (m *Manager) Deliver(ctx context.Context, targets []string, path string, doc jobs.Document) ([]string, error) {
	if len(targets) == 0 {
		targets = m.defaults
	}

	var delivered []string
	for _, target := range targets {
		handler, ok := m.handlers[target]
		if !ok {
			return delivered, fmt.Errorf("unknown output target: %s", target)
		}
		if !handler.Available() {
			slog.Debug("output target not available, skipping", "target", target, "doc_id", doc.ID)
			continue
		}

		f, err := os.Open(path)
		if err != nil {
			return delivered, fmt.Errorf("open document: %w", err)
		}
		stat, err := f.Stat()
		if err != nil {
			f.Close()
			return delivered, fmt.Errorf("stat document: %w", err)
		}

		d := doc
		d.Reader = f
		d.Size = stat.Size()
		err = m.Send(ctx, target, &d)
		f.Close()
		if err != nil {
			return delivered, err
		}
		delivered = append(delivered, target)
	}
	return delivered, nil
}

// ListTargets returns all configured output targets.
func (m *Manager) ListTargets() []Target {
	targets := make([]Target, 0, len(m.handlers))
	for name, h := range m.handlers {
		targets = append(targets, Target{
			Name:      name,
			Type:      name,
			Enabled:   true,
			Available: h.Available(),
		})
	}
	sort.Slice(targets, func(i, k int) bool { return targets[i].Name < targets[k].Name })
	return targets
}
