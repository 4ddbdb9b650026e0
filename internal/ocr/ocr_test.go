package ocr

import (
	"bytes"
	"context"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"

	"github.com/thoscut/tiffpress/internal/document"
)

const sampleHOCR = `<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml">
 <body>
  <div class='ocr_page' id='page_1' title='image "p.tif"; bbox 0 0 800 600; ppageno 0'>
   <div class='ocr_carea' id='block_1_1' title="bbox 10 10 400 80">
    <p class='ocr_par' id='par_1_1'>
     <span class='ocr_line' id='line_1_1' title="bbox 10 10 400 40; baseline 0 -5">
      <span class='ocrx_word' id='word_1_1' title='bbox 10 10 120 40; x_wconf 96'>Hello</span>
      <span class='ocrx_word' id='word_1_2' title='bbox 130 10 260 40; x_wconf 90'><strong>World</strong></span>
     </span>
     <span class='ocr_line' id='line_1_2' title="bbox 10 50 200 80">
      <span class='ocrx_word' id='word_1_3' title='bbox 10 50 200 80; x_wconf 87'>Grüße</span>
      <span class='ocrx_word' id='word_1_4' title='bbox 210 50 220 80; x_wconf 10'> </span>
     </span>
    </p>
   </div>
  </div>
 </body>
</html>`

func TestParseHOCR(t *testing.T) {
	layer, err := ParseHOCR(strings.NewReader(sampleHOCR))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if layer.Width != 800 || layer.Height != 600 {
		t.Fatalf("unexpected page size %dx%d", layer.Width, layer.Height)
	}
	if len(layer.Words) != 3 {
		t.Fatalf("expected 3 words, got %d: %+v", len(layer.Words), layer.Words)
	}
	if layer.Words[1].Text != "World" {
		t.Fatalf("expected nested word text, got %q", layer.Words[1].Text)
	}
	if layer.Words[0].Box != image.Rect(10, 10, 120, 40) {
		t.Fatalf("unexpected box %v", layer.Words[0].Box)
	}
	if layer.Words[0].Confidence != 0.96 {
		t.Fatalf("expected normalized confidence 0.96, got %v", layer.Words[0].Confidence)
	}
	if layer.Text != "Hello World\nGrüße" {
		t.Fatalf("unexpected text %q", layer.Text)
	}
}

func TestParseTitle(t *testing.T) {
	props := parseTitle("bbox 1 2 3 4; x_wconf 50;  baseline 0 -3")
	if props["x_wconf"] != "50" {
		t.Fatalf("unexpected x_wconf %q", props["x_wconf"])
	}
	box, ok := props.bbox()
	if !ok || box != image.Rect(1, 2, 3, 4) {
		t.Fatalf("unexpected bbox %v (%v)", box, ok)
	}
	if _, ok := parseTitle("bbox 1 2 x 4").bbox(); ok {
		t.Fatal("expected malformed bbox to be rejected")
	}
}

func TestHOCREngineRunsBinary(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script stub requires a POSIX shell")
	}

	dir := t.TempDir()
	fixture := filepath.Join(dir, "out.hocr")
	if err := os.WriteFile(fixture, []byte(sampleHOCR), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	script := filepath.Join(dir, "tesseract")
	body := "#!/bin/sh\ncat " + fixture + "\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}

	engine := NewHOCREngine(Options{TesseractPath: script, Language: "deu+eng"})
	page := &document.Page{Index: 4, Path: "/nonexistent.tif", Width: 800, Height: 600, DPI: 300}

	layer, err := engine.Recognize(context.Background(), page)
	if err != nil {
		t.Fatalf("recognize: %v", err)
	}
	if layer.PageIndex != 4 || layer.Engine != "hocr" {
		t.Fatalf("unexpected layer metadata: %+v", layer)
	}
	if !strings.Contains(layer.PlainText(), "Hello") {
		t.Fatalf("expected recognized text, got %q", layer.PlainText())
	}
}

func TestHOCREngineFailure(t *testing.T) {
	engine := NewHOCREngine(Options{TesseractPath: filepath.Join(t.TempDir(), "missing")})
	_, err := engine.Recognize(context.Background(), &document.Page{Path: "x.tif"})
	if err == nil {
		t.Fatal("expected error when tesseract cannot run")
	}
}

// fakeTextract rejects documents over maxBytes like the service does.
type fakeTextract struct {
	out      *textract.DetectDocumentTextOutput
	got      *textract.DetectDocumentTextInput
	maxBytes int
}

func (f *fakeTextract) DetectDocumentText(_ context.Context, in *textract.DetectDocumentTextInput, _ ...func(*textract.Options)) (*textract.DetectDocumentTextOutput, error) {
	f.got = in
	if f.maxBytes > 0 && len(in.Document.Bytes) > f.maxBytes {
		return nil, &types.DocumentTooLargeException{Message: aws.String("document too large")}
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(in.Document.Bytes)); err != nil {
		return nil, &types.UnsupportedDocumentException{Message: aws.String(err.Error())}
	}
	if f.out == nil {
		return &textract.DetectDocumentTextOutput{}, nil
	}
	return f.out, nil
}

func noisePage(w, h int) *document.Page {
	img := image.NewGray(image.Rect(0, 0, w, h))
	rng := rand.New(rand.NewSource(1))
	for i := range img.Pix {
		img.Pix[i] = uint8(rng.Intn(256))
	}
	return &document.Page{Path: "noise.tif", Image: img, Width: w, Height: h, DPI: 600}
}

func TestTextractEngine(t *testing.T) {
	fake := &fakeTextract{out: &textract.DetectDocumentTextOutput{
		Blocks: []types.Block{
			{BlockType: types.BlockTypePage},
			{BlockType: types.BlockTypeLine, Text: aws.String("Invoice 42")},
			{
				BlockType:  types.BlockTypeWord,
				Text:       aws.String("Invoice"),
				Confidence: aws.Float32(99),
				Geometry: &types.Geometry{BoundingBox: &types.BoundingBox{
					Left: 0.1, Top: 0.2, Width: 0.25, Height: 0.1,
				}},
			},
			{
				BlockType:  types.BlockTypeWord,
				Text:       aws.String("42"),
				Confidence: aws.Float32(95),
				Geometry: &types.Geometry{BoundingBox: &types.BoundingBox{
					Left: 0.5, Top: 0.2, Width: 0.1, Height: 0.1,
				}},
			},
		},
	}}

	engine := &TextractEngine{client: fake}
	page := &document.Page{Index: 1, Path: "p.tif", Image: image.NewGray(image.Rect(0, 0, 1000, 2000)), Width: 1000, Height: 2000}
	layer, err := engine.Recognize(context.Background(), page)
	if err != nil {
		t.Fatalf("recognize: %v", err)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(fake.got.Document.Bytes))
	if err != nil || format != "png" {
		t.Fatalf("expected PNG page, got %q: %v", format, err)
	}
	if cfg.Width != 1000 || cfg.Height != 2000 {
		t.Fatalf("small page should be sent at full size, got %dx%d", cfg.Width, cfg.Height)
	}
	if layer.Text != "Invoice 42" {
		t.Fatalf("unexpected text %q", layer.Text)
	}
	if len(layer.Words) != 2 {
		t.Fatalf("expected 2 words, got %d", len(layer.Words))
	}
	if got := layer.Words[0].Box; got != image.Rect(100, 400, 350, 600) {
		t.Fatalf("unexpected scaled box %v", got)
	}
	if layer.Words[0].Confidence != 0.99 {
		t.Fatalf("unexpected confidence %v", layer.Words[0].Confidence)
	}
}

func TestTextractShrinksLargePages(t *testing.T) {
	const limit = 60000
	fake := &fakeTextract{maxBytes: limit}
	engine := &TextractEngine{client: fake, maxBytes: limit}

	page := noisePage(800, 600)
	if _, err := engine.Recognize(context.Background(), page); err != nil {
		t.Fatalf("recognize: %v", err)
	}
	if n := len(fake.got.Document.Bytes); n > limit {
		t.Fatalf("sent %d bytes, limit %d", n, limit)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(fake.got.Document.Bytes))
	if err != nil {
		t.Fatalf("decode sent image: %v", err)
	}
	if cfg.Width >= 800 {
		t.Fatalf("expected a downscaled image, got width %d", cfg.Width)
	}
	if r := float64(cfg.Width) / float64(cfg.Height); r < 1.3 || r > 1.37 {
		t.Fatalf("aspect ratio not kept: %dx%d", cfg.Width, cfg.Height)
	}
}

func TestTextractLimitsLongestSide(t *testing.T) {
	fake := &fakeTextract{}
	engine := &TextractEngine{client: fake, maxSide: 1000}

	page := &document.Page{Image: image.NewGray(image.Rect(0, 0, 3000, 200)), Width: 3000, Height: 200}
	if _, err := engine.Recognize(context.Background(), page); err != nil {
		t.Fatalf("recognize: %v", err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(fake.got.Document.Bytes))
	if err != nil {
		t.Fatalf("decode sent image: %v", err)
	}
	if cfg.Width != 1000 || cfg.Height != 67 {
		t.Fatalf("expected 1000x67, got %dx%d", cfg.Width, cfg.Height)
	}
}

func TestTextractImageTooLarge(t *testing.T) {
	engine := &TextractEngine{client: &fakeTextract{}, maxBytes: 100}
	if _, err := engine.Recognize(context.Background(), noisePage(400, 400)); err == nil {
		t.Fatal("expected error when no encoding fits")
	}
}

func TestNewEngine(t *testing.T) {
	e, err := New(context.Background(), "none", Options{})
	if err != nil {
		t.Fatalf("new none engine: %v", err)
	}
	layer, err := e.Recognize(context.Background(), &document.Page{Index: 2, Width: 5, Height: 6})
	if err != nil {
		t.Fatalf("recognize: %v", err)
	}
	if len(layer.Words) != 0 || layer.PageIndex != 2 {
		t.Fatalf("unexpected layer %+v", layer)
	}

	if _, err := New(context.Background(), "bogus", Options{}); err == nil {
		t.Fatal("expected error for unknown engine")
	}
}

func TestOptionsLanguages(t *testing.T) {
	got := Options{Language: "deu+eng"}.Languages()
	if len(got) != 2 || got[0] != "deu" || got[1] != "eng" {
		t.Fatalf("unexpected languages %v", got)
	}
	if (Options{}).Languages() != nil {
		t.Fatal("expected nil languages for empty setting")
	}
}
