// Package lock marks documents as in processing with marker files so that
// concurrent runs, on this host or another sharing the directory, skip
// them.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var ErrAlreadyProcessing = errors.New("already processing")

// Dir holds one marker file per document.
type Dir struct {
	path string
}

// New creates the marker directory if needed.
func New(path string) (*Dir, error) {
	if path == "" {
		return nil, errors.New("lock directory not configured")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	return &Dir{path: path}, nil
}

func (d *Dir) marker(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("invalid document id %q", id)
	}
	return filepath.Join(d.path, id), nil
}

// Acquire creates the marker for id. It returns ErrAlreadyProcessing when
// the marker already exists.
func (d *Dir) Acquire(id string) error {
	p, err := d.marker(id)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%s: %w", id, ErrAlreadyProcessing)
		}
		return fmt.Errorf("create lock for %s: %w", id, err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	return f.Close()
}

// Release removes the marker for id. Releasing a missing marker is not an
// error.
func (d *Dir) Release(id string) error {
	p, err := d.marker(id)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove lock for %s: %w", id, err)
	}
	return nil
}

// Held reports whether a marker exists for id.
func (d *Dir) Held(id string) bool {
	p, err := d.marker(id)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}
