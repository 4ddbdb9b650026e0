// Package processor turns the page images of one document into a finished,
// searchable PDF.
package processor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/thoscut/tiffpress/internal/config"
	"github.com/thoscut/tiffpress/internal/document"
	"github.com/thoscut/tiffpress/internal/jobs"
	"github.com/thoscut/tiffpress/internal/ocr"
	"github.com/thoscut/tiffpress/internal/optimize"
	"github.com/thoscut/tiffpress/internal/pdf"
	"github.com/thoscut/tiffpress/internal/source"
	"github.com/thoscut/tiffpress/internal/textstore"
)

// ErrPageCount is returned when the finished PDF does not have one page
// per input image.
var ErrPageCount = errors.New("page count mismatch")

// EngineFactory builds an OCR engine for a language.
type EngineFactory func(ctx context.Context, language string) (ocr.Engine, error)

// OptimizerFactory builds an optimizer by name.
type OptimizerFactory func(name string) (optimize.Optimizer, error)

// Options configures a Pipeline.
type Options struct {
	Processing config.ProcessingConfig
	DefaultDPI float64
	AWS        config.AWSConfig
	Sink       textstore.Sink
	TextPrefix string

	// Engines and Optimizers default to the registered implementations.
	Engines    EngineFactory
	Optimizers OptimizerFactory
}

// Pipeline orchestrates page loading, OCR, PDF assembly and optimization.
type Pipeline struct {
	cfg        config.ProcessingConfig
	loader     *source.Loader
	sink       textstore.Sink
	textPrefix string
	newEngine  EngineFactory
	newOpt     OptimizerFactory

	mu      sync.Mutex
	engines map[string]ocr.Engine
}

// NewPipeline creates a new processing pipeline.
func NewPipeline(opts Options) *Pipeline {
	p := &Pipeline{
		cfg:        opts.Processing,
		loader:     source.NewLoader(opts.DefaultDPI),
		sink:       opts.Sink,
		textPrefix: opts.TextPrefix,
		newEngine:  opts.Engines,
		newOpt:     opts.Optimizers,
		engines:    make(map[string]ocr.Engine),
	}
	if p.sink == nil {
		p.sink = textstore.Nop{}
	}
	if p.newEngine == nil {
		engine, tesseract, aws := opts.Processing.OCR.Engine, opts.Processing.OCR.TesseractPath, opts.AWS
		p.newEngine = func(ctx context.Context, language string) (ocr.Engine, error) {
			return ocr.New(ctx, engine, ocr.Options{Language: language, TesseractPath: tesseract, AWS: aws})
		}
	}
	if p.newOpt == nil {
		qpdf := opts.Processing.Optimize.QPDFPath
		p.newOpt = func(name string) (optimize.Optimizer, error) {
			return optimize.New(name, optimize.Options{QPDFPath: qpdf})
		}
	}
	return p
}

// engine returns the cached engine for language.
func (p *Pipeline) engine(ctx context.Context, language string) (ocr.Engine, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.engines[language]; ok {
		return e, nil
	}
	e, err := p.newEngine(ctx, language)
	if err != nil {
		return nil, fmt.Errorf("create OCR engine: %w", err)
	}
	p.engines[language] = e
	return e, nil
}

// Destination returns where the PDF for job is written.
func Destination(job *jobs.Job) string {
	if job.Output.Path != "" {
		return job.Output.Path
	}
	return filepath.Join(job.Root, source.OutputDir, sanitizeFilename(job.DocumentID)+".pdf")
}

// Process converts the pages of job into a single PDF at its destination.
// On error nothing is written to the destination.
func (p *Pipeline) Process(ctx context.Context, job *jobs.Job, profile *config.Profile) (*jobs.Result, error) {
	settings := profile.Apply(p.cfg)
	if job.OcrEnabled != nil {
		settings.OCR.Enabled = *job.OcrEnabled
	}
	log := slog.With("job_id", job.ID, "doc_id", job.DocumentID)

	paths := job.Pages
	if len(paths) == 0 {
		var err error
		paths, err = source.Collect(job.Root)
		if err != nil {
			return nil, err
		}
	}
	log.Info("processing document", "pages", len(paths), "ocr", settings.OCR.Enabled)

	var engine ocr.Engine
	if settings.OCR.Enabled {
		var err error
		if engine, err = p.engine(ctx, settings.OCR.Language); err != nil {
			return nil, err
		}
	}

	assembler, err := pdf.NewAssembler(pdf.Options{
		Compression: settings.PDF.Compression,
		JPEGQuality: settings.PDF.JPEGQuality,
		MaxDPI:      settings.PDF.MaxDPI,
		Producer:    settings.PDF.Producer,
	})
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(settings.TempDirectory, 0o755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	workDir, err := os.MkdirTemp(settings.TempDirectory, "job-")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	// Step 1: assemble pages
	rawPath := filepath.Join(workDir, "assembled.pdf")
	texts, err := p.assemble(ctx, job, assembler, engine, paths, rawPath)
	if err != nil {
		return nil, err
	}
	rawInfo, err := os.Stat(rawPath)
	if err != nil {
		return nil, fmt.Errorf("stat assembled PDF: %w", err)
	}

	// Step 2: optimize
	finalPath := rawPath
	if settings.Optimize.Enabled {
		job.SendProgress(jobs.ProgressUpdate{Type: "processing", Progress: 85, Message: "Optimizing PDF..."})

		opt, err := p.newOpt(settings.Optimize.Engine)
		if err != nil {
			return nil, err
		}
		finalPath = filepath.Join(workDir, "optimized.pdf")
		if err := opt.Optimize(ctx, rawPath, finalPath); err != nil {
			return nil, fmt.Errorf("optimize PDF: %w", err)
		}
	}

	// Step 3: verify
	job.SendProgress(jobs.ProgressUpdate{Type: "processing", Progress: 90, Message: "Verifying PDF..."})
	n, err := pdf.PageCount(finalPath)
	if err != nil {
		return nil, fmt.Errorf("verify PDF: %w", err)
	}
	if n != len(paths) {
		return nil, fmt.Errorf("%w: %d images, %d pages", ErrPageCount, len(paths), n)
	}

	// Step 4: publish page text
	if settings.OCR.Enabled {
		job.SendProgress(jobs.ProgressUpdate{Type: "processing", Progress: 95, Message: "Publishing page text..."})
		for _, t := range texts {
			key := textstore.Key(p.textPrefix, job.DocumentID, t.File)
			if err := p.sink.Put(ctx, key, t.Text); err != nil {
				return nil, fmt.Errorf("publish text of page %d: %w", t.Page, err)
			}
		}
	}

	// Step 5: move into place
	dest := Destination(job)
	if err := install(finalPath, dest); err != nil {
		return nil, err
	}
	stat, err := os.Stat(dest)
	if err != nil {
		return nil, fmt.Errorf("stat PDF: %w", err)
	}

	result := &jobs.Result{
		Path:    dest,
		Pages:   n,
		Size:    stat.Size(),
		RawSize: rawInfo.Size(),
		Text:    texts,
	}

	job.SendProgress(jobs.ProgressUpdate{
		Type:     "processing",
		Progress: 100,
		Message:  "Document ready",
	})

	log.Info("document processed",
		"pages", n,
		"size", stat.Size(),
		"raw_size", rawInfo.Size(),
		"path", dest)

	return result, nil
}

// assemble streams every page through load, OCR and the PDF writer. Only
// one decoded page is held at a time.
func (p *Pipeline) assemble(ctx context.Context, job *jobs.Job, assembler *pdf.Assembler, engine ocr.Engine, paths []string, out string) ([]jobs.PageText, error) {
	f, err := os.Create(out)
	if err != nil {
		return nil, fmt.Errorf("create PDF file: %w", err)
	}
	defer f.Close()

	title := job.Title
	if title == "" {
		title = job.DocumentID
	}
	doc := assembler.NewDocument(f, pdf.Info{Title: title})

	var texts []jobs.PageText
	for i, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := p.loader.Load(i, path)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i+1, err)
		}

		var layer *document.TextLayer
		if engine != nil {
			layer, err = engine.Recognize(ctx, page)
			if err != nil {
				return nil, fmt.Errorf("OCR page %d (%s): %w", i+1, filepath.Base(path), err)
			}
			texts = append(texts, jobs.PageText{
				Page:       i + 1,
				File:       path,
				Text:       layer.PlainText(),
				Confidence: layer.Confidence,
			})
		}

		if err := doc.AddPage(page, layer); err != nil {
			return nil, fmt.Errorf("add page %d: %w", i+1, err)
		}

		slog.Debug("page added", "job_id", job.ID, "doc_id", job.DocumentID, "page", i+1, "dpi", page.DPI)
		job.SendProgress(jobs.ProgressUpdate{
			Type:     "page_complete",
			Page:     i + 1,
			Pages:    len(paths),
			Progress: 5 + 75*(i+1)/len(paths),
			Message:  fmt.Sprintf("Page %d of %d processed", i+1, len(paths)),
		})
	}

	if err := doc.Close(); err != nil {
		return nil, fmt.Errorf("finish PDF: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close PDF file: %w", err)
	}
	return texts, nil
}

// install moves src to dest so that dest only ever holds a complete file.
// When a rename across filesystems is impossible the file is copied next
// to dest first and renamed from there.
func install(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	if err := os.Rename(src, dest); err == nil {
		return nil
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tiffpress-*.pdf")
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	in, err := os.Open(src)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("open PDF: %w", err)
	}
	defer in.Close()

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write output file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close output file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename output file: %w", err)
	}
	return nil
}

func sanitizeFilename(name string) string {
	result := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') ||
			c == '-' || c == '_' || c == '.' {
			result = append(result, c)
		} else if c == ' ' {
			result = append(result, '_')
		}
	}
	if len(result) == 0 {
		return "document"
	}
	return string(result)
}
