package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/thoscut/tiffpress/internal/document"
)

// HOCREngine shells out to the tesseract CLI and parses its hOCR output.
type HOCREngine struct {
	tesseractPath string
	language      string
}

// NewHOCREngine creates an engine backed by the tesseract binary.
func NewHOCREngine(opts Options) *HOCREngine {
	path := opts.TesseractPath
	if path == "" {
		path = "tesseract"
	}
	return &HOCREngine{tesseractPath: path, language: opts.Language}
}

func (e *HOCREngine) Name() string { return "hocr" }

// Recognize runs tesseract on the page's source file.
func (e *HOCREngine) Recognize(ctx context.Context, page *document.Page) (*document.TextLayer, error) {
	args := []string{page.Path, "stdout"}
	if e.language != "" {
		args = append(args, "-l", e.language)
	}
	if page.DPI > 0 {
		args = append(args, "--dpi", strconv.Itoa(int(page.DPI)))
	}
	args = append(args, "hocr")

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.tesseractPath, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	slog.Debug("running tesseract", "args", args)
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("tesseract failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	layer, err := ParseHOCR(&stdout)
	if err != nil {
		return nil, fmt.Errorf("parse hocr: %w", err)
	}
	layer.PageIndex = page.Index
	layer.Engine = e.Name()
	if layer.Width == 0 || layer.Height == 0 {
		layer.Width, layer.Height = page.Width, page.Height
	}
	return layer, nil
}

// ParseHOCR reads the first page of an hOCR document into a text layer.
// Word confidences are normalized to 0..1.
func ParseHOCR(r io.Reader) (*document.TextLayer, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	layer := &document.TextLayer{}
	var lines []string
	var pageSeen bool

	var walk func(n *html.Node, line *[]string)
	walk = func(n *html.Node, line *[]string) {
		if n.Type == html.ElementNode {
			classes := strings.Fields(attr(n, "class"))
			props := parseTitle(attr(n, "title"))

			switch {
			case hasClass(classes, "ocr_page"):
				if pageSeen {
					return
				}
				pageSeen = true
				if box, ok := props.bbox(); ok {
					layer.Width, layer.Height = box.Dx(), box.Dy()
				}

			case hasClass(classes, "ocr_line"), hasClass(classes, "ocrx_line"),
				hasClass(classes, "ocr_header"), hasClass(classes, "ocr_caption"),
				hasClass(classes, "ocr_textfloat"):
				var words []string
				for c := n.FirstChild; c != nil; c = c.NextSibling {
					walk(c, &words)
				}
				if len(words) > 0 {
					lines = append(lines, strings.Join(words, " "))
				}
				return

			case hasClass(classes, "ocrx_word"):
				text := strings.TrimSpace(textContent(n))
				if text == "" {
					return
				}
				box, _ := props.bbox()
				conf, _ := strconv.ParseFloat(props["x_wconf"], 64)
				layer.Words = append(layer.Words, document.Word{
					Text:       text,
					Box:        box,
					Confidence: conf / 100,
				})
				if line != nil {
					*line = append(*line, text)
				} else {
					lines = append(lines, text)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, line)
		}
	}
	walk(root, nil)

	layer.Text = strings.Join(lines, "\n")
	layer.Confidence = document.MeanConfidence(layer.Words)
	return layer, nil
}

type titleProps map[string]string

// parseTitle splits an hOCR title attribute ("bbox 0 0 10 10; x_wconf 93")
// into properties keyed by name.
func parseTitle(title string) titleProps {
	props := make(titleProps)
	for _, part := range strings.Split(title, ";") {
		fields := strings.Fields(part)
		if len(fields) == 0 {
			continue
		}
		props[fields[0]] = strings.Join(fields[1:], " ")
	}
	return props
}

func (p titleProps) bbox() (image.Rectangle, bool) {
	fields := strings.Fields(p["bbox"])
	if len(fields) != 4 {
		return image.Rectangle{}, false
	}
	var v [4]int
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return image.Rectangle{}, false
		}
		v[i] = n
	}
	return image.Rect(v[0], v[1], v[2], v[3]), true
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(classes []string, want string) bool {
	for _, c := range classes {
		if c == want {
			return true
		}
	}
	return false
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(textContent(c))
	}
	return sb.String()
}
