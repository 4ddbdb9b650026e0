// Package document holds the types that flow through the conversion
// pipeline: decoded page images and the text layers recognized on them.
package document

import (
	"image"
	"strings"
)

// Page is one decoded page image. DPI is the horizontal resolution; YDPI
// is the vertical one and falls back to DPI when unset.
type Page struct {
	Index  int
	Path   string
	Image  image.Image
	Width  int
	Height int
	DPI    float64
	YDPI   float64
}

// VerticalDPI returns the vertical resolution.
func (p *Page) VerticalDPI() float64 {
	if p.YDPI > 0 {
		return p.YDPI
	}
	return p.DPI
}

// WidthPoints returns the page width in PDF points.
func (p *Page) WidthPoints() float64 {
	return float64(p.Width) / p.DPI * 72
}

// HeightPoints returns the page height in PDF points.
func (p *Page) HeightPoints() float64 {
	return float64(p.Height) / p.VerticalDPI() * 72
}

// Word is a recognized word and its box in page pixel coordinates
// (origin top-left).
type Word struct {
	Text       string          `json:"text"`
	Box        image.Rectangle `json:"box"`
	Confidence float64         `json:"confidence"`
}

// TextLayer is the OCR result for one page. Width and Height give the pixel
// space the word boxes refer to.
type TextLayer struct {
	PageIndex  int     `json:"page_index"`
	Engine     string  `json:"engine"`
	Text       string  `json:"text"`
	Words      []Word  `json:"words"`
	Confidence float64 `json:"confidence"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
}

// PlainText returns the layer's text, falling back to the words joined by
// spaces when the engine reported no separate plain text.
func (l *TextLayer) PlainText() string {
	if l == nil {
		return ""
	}
	if l.Text != "" {
		return l.Text
	}
	words := make([]string, 0, len(l.Words))
	for _, w := range l.Words {
		words = append(words, w.Text)
	}
	return strings.Join(words, " ")
}

// MeanConfidence averages the word confidences.
func MeanConfidence(words []Word) float64 {
	if len(words) == 0 {
		return 0
	}
	var sum float64
	for _, w := range words {
		sum += w.Confidence
	}
	return sum / float64(len(words))
}
