// Package ocr runs text recognition on page images. Engines are selected by
// name; the in-process Tesseract engine lives in the tesseract subpackage
// and registers itself when imported.
package ocr

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/thoscut/tiffpress/internal/config"
	"github.com/thoscut/tiffpress/internal/document"
)

// Engine recognizes the text on one page.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, page *document.Page) (*document.TextLayer, error)
}

// Options configures engine construction.
type Options struct {
	Language      string
	TesseractPath string
	AWS           config.AWSConfig
}

// Languages splits a Tesseract-style language setting ("deu+eng").
func (o Options) Languages() []string {
	if o.Language == "" {
		return nil
	}
	return strings.Split(o.Language, "+")
}

// Factory builds an engine.
type Factory func(ctx context.Context, opts Options) (Engine, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes an engine available under name.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[name] = f
}

// Available lists the registered engine names.
func Available() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New constructs the engine registered as name.
func New(ctx context.Context, name string, opts Options) (Engine, error) {
	mu.RLock()
	f, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown OCR engine %q (available: %s)", name, strings.Join(Available(), ", "))
	}
	return f(ctx, opts)
}

func init() {
	Register("none", func(context.Context, Options) (Engine, error) { return NoneEngine{}, nil })
	Register("hocr", func(_ context.Context, opts Options) (Engine, error) { return NewHOCREngine(opts), nil })
	Register("textract", NewTextractEngine)
}

// NoneEngine returns empty text layers.
type NoneEngine struct{}

func (NoneEngine) Name() string { return "none" }

func (NoneEngine) Recognize(_ context.Context, page *document.Page) (*document.TextLayer, error) {
	return &document.TextLayer{
		PageIndex: page.Index,
		Engine:    "none",
		Width:     page.Width,
		Height:    page.Height,
	}, nil
}
