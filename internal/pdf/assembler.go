// Package pdf assembles page images and their OCR text layers into a
// searchable PDF and reads finished files back for verification.
package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/thoscut/tiffpress/internal/document"
)

// Image compression modes.
const (
	CompressionJPEG  = "jpeg"
	CompressionFlate = "flate"
	CompressionNone  = "none"
)

var ErrNoPages = errors.New("no pages to assemble")

// Options controls how pages are encoded.
type Options struct {
	Compression string
	JPEGQuality int
	MaxDPI      int
	Producer    string
}

// Info is the document information dictionary.
type Info struct {
	Title   string
	Created time.Time
}

// Assembler builds PDFs from decoded pages.
type Assembler struct {
	opts Options
}

// NewAssembler validates opts and fills defaults.
func NewAssembler(opts Options) (*Assembler, error) {
	switch opts.Compression {
	case "":
		opts.Compression = CompressionJPEG
	case CompressionJPEG, CompressionFlate, CompressionNone:
	default:
		return nil, fmt.Errorf("unknown compression %q", opts.Compression)
	}
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = 85
	}
	if opts.Producer == "" {
		opts.Producer = "tiffpress"
	}
	return &Assembler{opts: opts}, nil
}

// Assemble writes all pages in order. layers[i] belongs to pages[i]; a nil
// layer produces an image-only page.
func (a *Assembler) Assemble(ctx context.Context, pages []*document.Page, layers []*document.TextLayer, info Info, w io.Writer) error {
	if len(pages) == 0 {
		return ErrNoPages
	}
	if layers != nil && len(layers) != len(pages) {
		return fmt.Errorf("have %d text layers for %d pages", len(layers), len(pages))
	}

	dw := a.NewDocument(w, info)
	for i, page := range pages {
		if err := ctx.Err(); err != nil {
			return err
		}
		var layer *document.TextLayer
		if layers != nil {
			layer = layers[i]
		}
		if err := dw.AddPage(page, layer); err != nil {
			return err
		}
	}
	return dw.Close()
}

// DocumentWriter streams pages into a PDF one at a time so that only the
// current page image is held in memory.
type DocumentWriter struct {
	opts    Options
	info    Info
	ow      *objectWriter
	catalog int
	pages   int
	font    int
	infoObj int
	kids    []int
	closed  bool
}

// NewDocument starts a PDF on w.
func (a *Assembler) NewDocument(w io.Writer, info Info) *DocumentWriter {
	ow := newObjectWriter(w)
	ow.header()

	dw := &DocumentWriter{
		opts:    a.opts,
		info:    info,
		ow:      ow,
		catalog: ow.alloc(),
		pages:   ow.alloc(),
		font:    ow.alloc(),
		infoObj: ow.alloc(),
	}
	ow.object(dw.font, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")
	return dw
}

// AddPage appends page with its optional text layer.
func (d *DocumentWriter) AddPage(page *document.Page, layer *document.TextLayer) error {
	if d.closed {
		return errors.New("document already closed")
	}
	if page == nil || page.Image == nil {
		return errors.New("page has no image")
	}
	if page.DPI <= 0 || page.VerticalDPI() <= 0 {
		return fmt.Errorf("page %d has no resolution", page.Index)
	}

	img := downsample(page.Image, page.DPI, page.VerticalDPI(), d.opts.MaxDPI)
	xobj, err := encodeImage(img, d.opts.Compression, d.opts.JPEGQuality)
	if err != nil {
		return fmt.Errorf("page %d: %w", page.Index, err)
	}

	pageW, pageH := page.WidthPoints(), page.HeightPoints()

	var content bytes.Buffer
	fmt.Fprintf(&content, "q\n%.4f 0 0 %.4f 0 0 cm\n/Im0 Do\nQ\n", pageW, pageH)
	writeTextLayer(&content, layer, page)

	contentDict := ""
	contentData := content.Bytes()
	if d.opts.Compression != CompressionNone {
		contentData, err = deflate(contentData)
		if err != nil {
			return fmt.Errorf("page %d: %w", page.Index, err)
		}
		contentDict = "/Filter /FlateDecode"
	}

	pageObj := d.ow.alloc()
	imageObj := d.ow.alloc()
	contentObj := d.ow.alloc()

	d.ow.stream(imageObj, xobj.dict, xobj.data)
	d.ow.stream(contentObj, contentDict, contentData)
	d.ow.object(pageObj, fmt.Sprintf(
		"<< /Type /Page /Parent %d 0 R /MediaBox [0 0 %.4f %.4f] "+
			"/Resources << /XObject << /Im0 %d 0 R >> /Font << /%s %d 0 R >> >> /Contents %d 0 R >>",
		d.pages, pageW, pageH, imageObj, textFont, d.font, contentObj))

	if d.ow.err != nil {
		return fmt.Errorf("write page %d: %w", page.Index, d.ow.err)
	}
	d.kids = append(d.kids, pageObj)
	return nil
}

// Close writes the page tree, catalog, info and trailer.
func (d *DocumentWriter) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	if len(d.kids) == 0 {
		return ErrNoPages
	}

	var kids bytes.Buffer
	for i, k := range d.kids {
		if i > 0 {
			kids.WriteByte(' ')
		}
		fmt.Fprintf(&kids, "%d 0 R", k)
	}
	d.ow.object(d.pages, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids.String(), len(d.kids)))
	d.ow.object(d.catalog, fmt.Sprintf("<< /Type /Catalog /Pages %d 0 R >>", d.pages))

	created := d.info.Created
	if created.IsZero() {
		created = time.Now()
	}
	info := fmt.Sprintf("<< /Producer %s /CreationDate (D:%s)", textString(d.opts.Producer), created.UTC().Format("20060102150405Z"))
	if d.info.Title != "" {
		info += " /Title " + textString(d.info.Title)
	}
	d.ow.object(d.infoObj, info+" >>")

	return d.ow.finish(d.catalog, d.infoObj)
}
