package processor

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"golang.org/x/image/tiff"

	"github.com/thoscut/tiffpress/internal/config"
	"github.com/thoscut/tiffpress/internal/document"
	"github.com/thoscut/tiffpress/internal/jobs"
	"github.com/thoscut/tiffpress/internal/ocr"
	"github.com/thoscut/tiffpress/internal/optimize"
	"github.com/thoscut/tiffpress/internal/pdf"
	"github.com/thoscut/tiffpress/internal/source"
)

// wordEngine recognizes one word per page, named after the page file.
type wordEngine struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (e *wordEngine) Name() string { return "word" }

func (e *wordEngine) Recognize(_ context.Context, page *document.Page) (*document.TextLayer, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.fail {
		return nil, errors.New("engine exploded")
	}
	word := strings.TrimSuffix(filepath.Base(page.Path), filepath.Ext(page.Path))
	return &document.TextLayer{
		PageIndex: page.Index,
		Engine:    "word",
		Text:      word,
		Words: []document.Word{{
			Text:       word,
			Box:        image.Rect(10, 10, page.Width-10, 30),
			Confidence: 0.95,
		}},
		Confidence: 0.95,
		Width:      page.Width,
		Height:     page.Height,
	}, nil
}

type memSink struct {
	mu   sync.Mutex
	puts map[string]string
}

func (s *memSink) Put(_ context.Context, key, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.puts == nil {
		s.puts = make(map[string]string)
	}
	s.puts[key] = text
	return nil
}

func writeTIFF(t *testing.T, path string) {
	t.Helper()

	img := image.NewGray(image.Rect(0, 0, 200, 100))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	for x := 20; x < 180; x++ {
		img.SetGray(x, 50, color.Gray{Y: 0})
	}

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

func newTestPipeline(t *testing.T, engine ocr.Engine, sink *memSink) *Pipeline {
	t.Helper()

	cfg := config.DefaultConfig().Processing
	cfg.TempDirectory = t.TempDir()
	cfg.Optimize.Engine = "none"

	return NewPipeline(Options{
		Processing: cfg,
		DefaultDPI: 300,
		Sink:       sink,
		TextPrefix: "ocr/",
		Engines: func(context.Context, string) (ocr.Engine, error) {
			return engine, nil
		},
	})
}

func newDocument(t *testing.T, pages ...string) (string, *jobs.Job) {
	t.Helper()
	root := filepath.Join(t.TempDir(), "12345")
	for _, name := range pages {
		writeTIFF(t, filepath.Join(root, source.MasterDir, name))
	}
	job := jobs.NewJob("12345", "standard", jobs.OutputConfig{})
	job.Root = root
	return root, job
}

func TestProcessProducesSearchablePDF(t *testing.T) {
	engine := &wordEngine{}
	sink := &memSink{}
	p := newTestPipeline(t, engine, sink)
	root, job := newDocument(t, "0002.tiff", "0001.tiff", "0003.tiff")

	result, err := p.Process(context.Background(), job, nil)
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	want := filepath.Join(root, source.OutputDir, "12345.pdf")
	if result.Path != want {
		t.Fatalf("expected output at %s, got %s", want, result.Path)
	}
	if result.Pages != 3 {
		t.Fatalf("expected 3 pages, got %d", result.Pages)
	}
	if engine.calls != 3 {
		t.Fatalf("expected 3 OCR calls, got %d", engine.calls)
	}

	report, err := pdf.Inspect(result.Path)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	for i, word := range []string{"0001", "0002", "0003"} {
		if !strings.Contains(report.Text[i], word) {
			t.Errorf("page %d text %q does not contain %q", i+1, report.Text[i], word)
		}
	}

	if got := sink.puts["ocr/12345/0002.txt"]; got != "0002" {
		t.Fatalf("unexpected published text %q (all: %v)", got, sink.puts)
	}
	if len(sink.puts) != 3 {
		t.Fatalf("expected 3 published pages, got %d", len(sink.puts))
	}
	if len(result.Text) != 3 || result.Text[0].Page != 1 {
		t.Fatalf("unexpected page text %+v", result.Text)
	}
}

func TestProcessWithoutOCR(t *testing.T) {
	engine := &wordEngine{}
	sink := &memSink{}
	p := newTestPipeline(t, engine, sink)
	_, job := newDocument(t, "0001.tiff")
	off := false
	job.OcrEnabled = &off

	result, err := p.Process(context.Background(), job, nil)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if engine.calls != 0 {
		t.Fatalf("expected no OCR calls, got %d", engine.calls)
	}
	if len(sink.puts) != 0 {
		t.Fatalf("expected no published text, got %v", sink.puts)
	}
	if result.Pages != 1 {
		t.Fatalf("expected 1 page, got %d", result.Pages)
	}
}

func TestProcessCorruptPageLeavesNoOutput(t *testing.T) {
	p := newTestPipeline(t, &wordEngine{}, &memSink{})
	root, job := newDocument(t, "0001.tiff")
	if err := os.WriteFile(filepath.Join(root, source.MasterDir, "0002.tiff"), []byte("not a tiff"), 0o644); err != nil {
		t.Fatalf("write corrupt page: %v", err)
	}

	_, err := p.Process(context.Background(), job, nil)
	if !errors.Is(err, source.ErrUnreadableImage) {
		t.Fatalf("expected ErrUnreadableImage, got %v", err)
	}
	if _, err := os.Stat(Destination(job)); !os.IsNotExist(err) {
		t.Fatalf("expected no output file, stat err = %v", err)
	}
}

func TestProcessOCRFailureLeavesNoOutput(t *testing.T) {
	sink := &memSink{}
	p := newTestPipeline(t, &wordEngine{fail: true}, sink)
	_, job := newDocument(t, "0001.tiff", "0002.tiff")

	if _, err := p.Process(context.Background(), job, nil); err == nil {
		t.Fatal("expected error")
	}
	if _, err := os.Stat(Destination(job)); !os.IsNotExist(err) {
		t.Fatalf("expected no output file, stat err = %v", err)
	}
	if len(sink.puts) != 0 {
		t.Fatalf("expected no published text, got %v", sink.puts)
	}
}

func TestProcessNoPages(t *testing.T) {
	p := newTestPipeline(t, &wordEngine{}, &memSink{})
	job := jobs.NewJob("1", "standard", jobs.OutputConfig{})
	job.Root = t.TempDir()

	if _, err := p.Process(context.Background(), job, nil); !errors.Is(err, source.ErrNoPages) {
		t.Fatalf("expected ErrNoPages, got %v", err)
	}
}

func TestProcessCancelled(t *testing.T) {
	p := newTestPipeline(t, &wordEngine{}, &memSink{})
	_, job := newDocument(t, "0001.tiff")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Process(ctx, job, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestProcessExplicitPagesAndOutput(t *testing.T) {
	p := newTestPipeline(t, &wordEngine{}, &memSink{})
	dir := t.TempDir()
	for _, name := range []string{"b.tif", "a.tif"} {
		writeTIFF(t, filepath.Join(dir, name))
	}

	out := filepath.Join(t.TempDir(), "nested", "out.pdf")
	job := jobs.NewJob("custom", "standard", jobs.OutputConfig{Path: out})
	job.Pages = []string{filepath.Join(dir, "b.tif"), filepath.Join(dir, "a.tif")}

	result, err := p.Process(context.Background(), job, nil)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	report, err := pdf.Inspect(out)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if result.Pages != 2 || !strings.Contains(report.Text[0], "b") {
		t.Fatalf("explicit page order not kept: %+v", report)
	}
}

func TestProcessProfileSettings(t *testing.T) {
	p := newTestPipeline(t, &wordEngine{}, &memSink{})
	_, job := newDocument(t, "0001.tiff")
	store, err := config.NewProfileStore("")
	if err != nil {
		t.Fatalf("profile store: %v", err)
	}
	archival, _ := store.Get("archival")

	result, err := p.Process(context.Background(), job, archival)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Size <= 0 || result.RawSize <= 0 {
		t.Fatalf("unexpected sizes %+v", result)
	}
}

func TestProcessStandardProfileFollowsConfig(t *testing.T) {
	cfg := config.DefaultConfig().Processing
	cfg.TempDirectory = t.TempDir()
	cfg.OCR.Enabled = false
	cfg.Optimize.Enabled = false
	cfg.PDF.Compression = "flate"

	p := NewPipeline(Options{
		Processing: cfg,
		Engines: func(context.Context, string) (ocr.Engine, error) {
			t.Error("OCR engine requested although OCR is disabled")
			return &wordEngine{}, nil
		},
		Optimizers: func(name string) (optimize.Optimizer, error) {
			t.Errorf("optimizer %q requested although optimization is disabled", name)
			return optimize.New("none", optimize.Options{})
		},
	})
	store, err := config.NewProfileStore("")
	if err != nil {
		t.Fatalf("profile store: %v", err)
	}
	standard, _ := store.Get("standard")
	_, job := newDocument(t, "0001.tiff", "0002.tiff")

	result, err := p.Process(context.Background(), job, standard)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(result.Text) != 0 {
		t.Fatalf("expected no page text, got %+v", result.Text)
	}
	if result.Size != result.RawSize {
		t.Fatalf("expected unoptimized output, size %d raw %d", result.Size, result.RawSize)
	}

	data, err := os.ReadFile(result.Path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if bytes.Contains(data, []byte("/DCTDecode")) {
		t.Fatal("expected flate images, found JPEG")
	}
	if !bytes.Contains(data, []byte("/FlateDecode")) {
		t.Fatal("expected flate images")
	}
}

func TestProcessOptimizedNotLarger(t *testing.T) {
	cfg := config.DefaultConfig().Processing
	cfg.TempDirectory = t.TempDir()
	cfg.PDF.Compression = "none"

	var used string
	p := NewPipeline(Options{
		Processing: cfg,
		Engines: func(context.Context, string) (ocr.Engine, error) {
			return &wordEngine{}, nil
		},
		Optimizers: func(name string) (optimize.Optimizer, error) {
			used = name
			return optimize.New("none", optimize.Options{})
		},
	})
	_, job := newDocument(t, "0001.tiff", "0002.tiff")

	result, err := p.Process(context.Background(), job, nil)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if used != "pdfcpu" {
		t.Fatalf("expected configured optimizer, got %q", used)
	}
	if result.Size > result.RawSize {
		t.Fatalf("optimized %d larger than assembled %d", result.Size, result.RawSize)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Normal Name", "Normal_Name"},
		{"12345", "12345"},
		{"../../etc", "....etc"},
		{"", "document"},
		{"test-file_123", "test-file_123"},
	}

	for _, tt := range tests {
		result := sanitizeFilename(tt.input)
		if result != tt.expected {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestProgressReported(t *testing.T) {
	p := newTestPipeline(t, &wordEngine{}, &memSink{})
	_, job := newDocument(t, "0001.tiff", "0002.tiff")

	if _, err := p.Process(context.Background(), job, nil); err != nil {
		t.Fatalf("process: %v", err)
	}

	var last jobs.ProgressUpdate
	pages := 0
	for {
		select {
		case u := <-job.ProgressChan():
			if u.Type == "page_complete" {
				pages++
			}
			last = u
			continue
		default:
		}
		break
	}
	if pages != 2 {
		t.Fatalf("expected 2 page updates, got %d", pages)
	}
	if last.Progress != 100 {
		t.Fatalf("expected final progress 100, got %+v", last)
	}
}
