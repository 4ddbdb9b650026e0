package output

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/thoscut/tiffpress/internal/jobs"
)

// FilesystemHandler copies documents into a local directory.
type FilesystemHandler struct {
	directory string
}

// NewFilesystemHandler creates a new filesystem output handler.
func NewFilesystemHandler(dir string) *FilesystemHandler {
	return &FilesystemHandler{directory: dir}
}

func (h *FilesystemHandler) Name() string { return "filesystem" }

func (h *FilesystemHandler) Available() bool {
	return h.directory != ""
}

// Send writes the document to a temporary file in the directory and
// renames it into place, so readers never see a partial file.
func (h *FilesystemHandler) Send(_ context.Context, doc *jobs.Document) error {
	if err := os.MkdirAll(h.directory, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	path := filepath.Join(h.directory, doc.Filename)

	f, err := os.CreateTemp(h.directory, ".tiffpress-*.pdf")
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	tmp := f.Name()

	if _, err := io.Copy(f, doc.Reader); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename file: %w", err)
	}
	return nil
}
