// Package tesseract provides an in-process OCR engine on top of libtesseract
// via gosseract. Importing it registers the "tesseract" engine.
package tesseract

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/thoscut/tiffpress/internal/document"
	"github.com/thoscut/tiffpress/internal/ocr"
)

func init() {
	ocr.Register("tesseract", func(_ context.Context, opts ocr.Options) (ocr.Engine, error) {
		return NewEngine(opts.Languages()), nil
	})
}

// Engine implements ocr.Engine with a fresh gosseract client per page.
type Engine struct {
	languages     []string
	clientFactory func() *gosseract.Client
}

// NewEngine constructs a Tesseract-backed OCR engine.
func NewEngine(languages []string) *Engine {
	return &Engine{languages: languages, clientFactory: gosseract.NewClient}
}

func (e *Engine) Name() string { return "tesseract" }

// Recognize performs OCR on one page image file.
func (e *Engine) Recognize(ctx context.Context, page *document.Page) (*document.TextLayer, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	c := e.clientFactory()
	defer c.Close()

	if err := c.SetImage(page.Path); err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}
	if len(e.languages) > 0 {
		if err := c.SetLanguage(e.languages...); err != nil {
			return nil, fmt.Errorf("set languages: %w", err)
		}
	}
	if page.DPI > 0 {
		if err := c.SetVariable(gosseract.SettableVariable("user_defined_dpi"), strconv.Itoa(int(page.DPI))); err != nil {
			return nil, fmt.Errorf("set dpi: %w", err)
		}
	}

	text, err := c.Text()
	if err != nil {
		return nil, fmt.Errorf("recognize text: %w", err)
	}

	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("word boxes: %w", err)
	}
	words := make([]document.Word, 0, len(boxes))
	for _, b := range boxes {
		if strings.TrimSpace(b.Word) == "" {
			continue
		}
		words = append(words, document.Word{
			Text:       b.Word,
			Box:        b.Box,
			Confidence: b.Confidence / 100,
		})
	}

	return &document.TextLayer{
		PageIndex:  page.Index,
		Engine:     e.Name(),
		Text:       strings.TrimSpace(text),
		Words:      words,
		Confidence: document.MeanConfidence(words),
		Width:      page.Width,
		Height:     page.Height,
	}, nil
}
