package source

import (
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/image/tiff"
)

func writeTIFF(t *testing.T, path string, w, h int) {
	t.Helper()

	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	img.SetGray(w/2, h/2, color.Gray{Y: 0})

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create tiff: %v", err)
	}
	defer f.Close()
	if err := tiff.Encode(f, img, &tiff.Options{Compression: tiff.Deflate}); err != nil {
		t.Fatalf("encode tiff: %v", err)
	}
}

func TestCollectPrefersEditedMasters(t *testing.T) {
	root := t.TempDir()
	writeTIFF(t, filepath.Join(root, MasterDir, "0001.tiff"), 10, 10)
	writeTIFF(t, filepath.Join(root, EditedDir, "0002.tiff"), 10, 10)
	writeTIFF(t, filepath.Join(root, EditedDir, "0001.tiff"), 10, 10)
	if err := os.WriteFile(filepath.Join(root, EditedDir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write notes: %v", err)
	}

	paths, err := Collect(root)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("expected 2 pages, got %d: %v", len(paths), paths)
	}
	if filepath.Base(paths[0]) != "0001.tiff" || filepath.Base(paths[1]) != "0002.tiff" {
		t.Fatalf("pages out of order: %v", paths)
	}
	if filepath.Base(filepath.Dir(paths[0])) != EditedDir {
		t.Fatalf("expected pages from %s, got %s", EditedDir, paths[0])
	}
}

func TestCollectFallsBackToMaster(t *testing.T) {
	root := t.TempDir()
	writeTIFF(t, filepath.Join(root, MasterDir, "b.TIF"), 10, 10)
	writeTIFF(t, filepath.Join(root, MasterDir, "a.tif"), 10, 10)

	paths, err := Collect(root)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(paths) != 2 || filepath.Base(paths[0]) != "a.tif" {
		t.Fatalf("unexpected pages: %v", paths)
	}
}

func TestCollectPlainDirectory(t *testing.T) {
	root := t.TempDir()
	writeTIFF(t, filepath.Join(root, "page.tiff"), 10, 10)

	paths, err := Collect(root)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(paths) != 1 {
		t.Fatalf("expected 1 page, got %d", len(paths))
	}
}

func TestCollectEmpty(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, MasterDir), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	_, err := Collect(root)
	if !errors.Is(err, ErrNoPages) {
		t.Fatalf("expected ErrNoPages, got %v", err)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.tiff")
	writeTIFF(t, path, 40, 20)

	page, err := NewLoader(300).Load(3, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if page.Index != 3 {
		t.Fatalf("expected index 3, got %d", page.Index)
	}
	if page.Width != 40 || page.Height != 20 {
		t.Fatalf("unexpected size %dx%d", page.Width, page.Height)
	}
	// The x/image encoder always tags 72 dpi.
	if page.DPI != 72 {
		t.Fatalf("expected dpi from tags (72), got %v", page.DPI)
	}
	if page.VerticalDPI() != 72 {
		t.Fatalf("expected vertical dpi from tags (72), got %v", page.VerticalDPI())
	}
	if page.WidthPoints() != 40 || page.HeightPoints() != 20 {
		t.Fatalf("expected 40x20pt, got %vx%v", page.WidthPoints(), page.HeightPoints())
	}
}

func TestLoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.tiff")
	if err := os.WriteFile(path, []byte("II*\x00garbage"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, err := NewLoader(300).Load(0, path)
	if !errors.Is(err, ErrUnreadableImage) {
		t.Fatalf("expected ErrUnreadableImage, got %v", err)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := NewLoader(300).Load(0, filepath.Join(t.TempDir(), "nope.tiff"))
	if !errors.Is(err, ErrUnreadableImage) {
		t.Fatalf("expected ErrUnreadableImage, got %v", err)
	}
}
