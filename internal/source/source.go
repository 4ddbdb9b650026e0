// Package source locates and decodes the TIFF page images of a document
// package.
package source

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/image/tiff"

	"github.com/thoscut/tiffpress/internal/document"
)

var (
	ErrNoPages         = errors.New("no TIFF pages found")
	ErrUnreadableImage = errors.New("unreadable page image")
)

// Image directories inside a document package, in order of preference.
const (
	EditedDir = "master_edited"
	MasterDir = "master"
	OutputDir = "service_edited"
)

// Collect returns the TIFF files of the package rooted at root, sorted by
// file name. Edited masters win over raw masters; a package without either
// subdirectory is read from root itself.
func Collect(root string) ([]string, error) {
	dir := root
	for _, sub := range []string{EditedDir, MasterDir} {
		candidate := filepath.Join(root, sub)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			dir = candidate
			break
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read page directory: %w", err)
	}

	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !isTIFF(entry.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoPages, dir)
	}

	sort.Strings(paths)
	return paths, nil
}

func isTIFF(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".tif", ".tiff":
		return true
	}
	return false
}

// Loader decodes page images.
type Loader struct {
	defaultDPI float64
}

// NewLoader returns a loader that assumes defaultDPI for images without
// resolution tags.
func NewLoader(defaultDPI float64) *Loader {
	if defaultDPI <= 0 {
		defaultDPI = 300
	}
	return &Loader{defaultDPI: defaultDPI}
}

// Load decodes the TIFF at path as page number index (0-based).
func (l *Loader) Load(index int, path string) (*document.Page, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrUnreadableImage, path, err)
	}
	defer f.Close()

	xdpi, ydpi, err := readResolution(f)
	if err != nil || xdpi <= 0 || ydpi <= 0 {
		xdpi, ydpi = l.defaultDPI, l.defaultDPI
	}
	if _, err := f.Seek(0, 0); err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrUnreadableImage, path, err)
	}

	img, err := tiff.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrUnreadableImage, path, err)
	}

	bounds := img.Bounds()
	if bounds.Empty() {
		return nil, fmt.Errorf("%w %s: empty image", ErrUnreadableImage, path)
	}

	return &document.Page{
		Index:  index,
		Path:   path,
		Image:  img,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		DPI:    xdpi,
		YDPI:   ydpi,
	}, nil
}
