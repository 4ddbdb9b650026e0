package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"math"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"
	xdraw "golang.org/x/image/draw"

	"github.com/thoscut/tiffpress/internal/awsconf"
	"github.com/thoscut/tiffpress/internal/document"
)

// textractAPI is the subset of the Textract client used here.
type textractAPI interface {
	DetectDocumentText(ctx context.Context, in *textract.DetectDocumentTextInput, optFns ...func(*textract.Options)) (*textract.DetectDocumentTextOutput, error)
}

// Limits of synchronous DetectDocumentText for in-memory documents.
const (
	textractMaxBytes = 10 << 20
	textractMaxSide  = 10000
	textractMinSide  = 64
)

// TextractEngine sends page images to Amazon Textract. Zero limits mean
// the service limits.
type TextractEngine struct {
	client   textractAPI
	maxBytes int
	maxSide  int
}

// NewTextractEngine creates a Textract engine from the default AWS
// credential chain.
func NewTextractEngine(ctx context.Context, opts Options) (Engine, error) {
	awsCfg, err := awsconf.Load(ctx, opts.AWS)
	if err != nil {
		return nil, err
	}
	return &TextractEngine{client: textract.NewFromConfig(awsCfg)}, nil
}

func (e *TextractEngine) Name() string { return "textract" }

// Recognize uploads the decoded page as PNG or JPEG, scaled down to fit
// the service limits, and converts WORD blocks into pixel-space boxes.
// Textract boxes are relative, so scaling does not move them.
func (e *TextractEngine) Recognize(ctx context.Context, page *document.Page) (*document.TextLayer, error) {
	if page.Image == nil {
		return nil, errors.New("page has no image")
	}
	data, err := e.encode(page.Image)
	if err != nil {
		return nil, fmt.Errorf("encode page %d: %w", page.Index, err)
	}

	out, err := e.client.DetectDocumentText(ctx, &textract.DetectDocumentTextInput{
		Document: &types.Document{Bytes: data},
	})
	if err != nil {
		return nil, fmt.Errorf("textract detect: %w", err)
	}

	layer := &document.TextLayer{
		PageIndex: page.Index,
		Engine:    e.Name(),
		Width:     page.Width,
		Height:    page.Height,
	}

	var lines []string
	for _, b := range out.Blocks {
		text := aws.ToString(b.Text)
		switch b.BlockType {
		case types.BlockTypeLine:
			lines = append(lines, text)
		case types.BlockTypeWord:
			if text == "" {
				continue
			}
			layer.Words = append(layer.Words, document.Word{
				Text:       text,
				Box:        scaleBox(b.Geometry, page.Width, page.Height),
				Confidence: float64(aws.ToFloat32(b.Confidence)) / 100,
			})
		}
	}

	layer.Text = strings.Join(lines, "\n")
	layer.Confidence = document.MeanConfidence(layer.Words)
	return layer, nil
}

// encode renders img as PNG, or JPEG when the PNG is too large, shrinking
// the image until the result fits.
func (e *TextractEngine) encode(img image.Image) ([]byte, error) {
	maxBytes, maxSide := e.maxBytes, e.maxSide
	if maxBytes <= 0 {
		maxBytes = textractMaxBytes
	}
	if maxSide <= 0 {
		maxSide = textractMaxSide
	}

	b := img.Bounds()
	longest := max(b.Dx(), b.Dy())
	scale := math.Min(1, float64(maxSide)/float64(longest))

	var buf bytes.Buffer
	for float64(longest)*scale >= textractMinSide {
		scaled := resize(img, scale)

		buf.Reset()
		if err := png.Encode(&buf, scaled); err != nil {
			return nil, err
		}
		if buf.Len() <= maxBytes {
			return buf.Bytes(), nil
		}

		buf.Reset()
		if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: 85}); err != nil {
			return nil, err
		}
		if buf.Len() <= maxBytes {
			return buf.Bytes(), nil
		}
		scale *= 0.7
	}
	return nil, fmt.Errorf("image does not fit in %d bytes", maxBytes)
}

// resize returns img scaled by factor, keeping grayscale images gray.
func resize(img image.Image, factor float64) image.Image {
	if factor >= 1 {
		return img
	}
	b := img.Bounds()
	r := image.Rect(0, 0,
		max(1, int(math.Round(float64(b.Dx())*factor))),
		max(1, int(math.Round(float64(b.Dy())*factor))))

	var dst xdraw.Image
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		dst = image.NewGray(r)
	default:
		dst = image.NewRGBA(r)
	}
	xdraw.ApproxBiLinear.Scale(dst, r, img, b, xdraw.Src, nil)
	return dst
}

// scaleBox converts Textract's page-relative box into pixels.
func scaleBox(g *types.Geometry, w, h int) image.Rectangle {
	if g == nil || g.BoundingBox == nil {
		return image.Rectangle{}
	}
	bb := g.BoundingBox
	left, top := float64(bb.Left), float64(bb.Top)
	x0 := math.Round(left * float64(w))
	y0 := math.Round(top * float64(h))
	x1 := math.Round((left + float64(bb.Width)) * float64(w))
	y1 := math.Round((top + float64(bb.Height)) * float64(h))
	return image.Rect(int(x0), int(y0), int(x1), int(y1))
}
