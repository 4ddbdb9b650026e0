package pdf

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode/utf16"

	"golang.org/x/text/encoding/charmap"

	"github.com/thoscut/tiffpress/internal/document"
)

const textFont = "F1"

// writeTextLayer appends an invisible text layer (render mode 3) to buf.
// Each word is placed with its baseline on the bottom edge of its box and
// stretched horizontally to the box width, so selection and search line
// up with the page image.
func writeTextLayer(buf *bytes.Buffer, layer *document.TextLayer, page *document.Page) {
	if layer == nil || len(layer.Words) == 0 {
		return
	}

	srcW, srcH := layer.Width, layer.Height
	if srcW <= 0 || srcH <= 0 {
		srcW, srcH = page.Width, page.Height
	}
	pageW, pageH := page.WidthPoints(), page.HeightPoints()
	sx := pageW / float64(srcW)
	sy := pageH / float64(srcH)

	buf.WriteString("BT\n3 Tr\n")
	for _, word := range layer.Words {
		text := strings.TrimSpace(word.Text)
		w := float64(word.Box.Dx()) * sx
		h := float64(word.Box.Dy()) * sy
		if text == "" || w <= 0 || h <= 0 {
			continue
		}

		// Trailing space keeps words apart when the text is extracted.
		encoded := encodeWinAnsi(text + " ")
		natural := helveticaWidth(encoded) * h / 1000
		scale := 100.0
		if natural > 0 {
			scale = w / natural * 100
		}

		x := float64(word.Box.Min.X) * sx
		y := pageH - float64(word.Box.Max.Y)*sy

		fmt.Fprintf(buf, "/%s %.2f Tf\n%.2f Tz\n1 0 0 1 %.2f %.2f Tm\n<%s> Tj\n",
			textFont, h, scale, x, y, hex.EncodeToString(encoded))
	}
	buf.WriteString("ET\n")
}

// encodeWinAnsi maps s to WinAnsiEncoding; runes outside it become '?'.
func encodeWinAnsi(s string) []byte {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r < 0x80 {
			out = append(out, byte(r))
			continue
		}
		if b, ok := charmap.Windows1252.EncodeRune(r); ok {
			out = append(out, b)
			continue
		}
		out = append(out, '?')
	}
	return out
}

// textString encodes s as a UTF-16BE hex string with byte order mark, the
// form PDF readers accept for non-Latin document info.
func textString(s string) string {
	units := utf16.Encode([]rune(s))
	buf := make([]byte, 2, 2+2*len(units))
	buf[0], buf[1] = 0xfe, 0xff
	for _, u := range units {
		buf = append(buf, byte(u>>8), byte(u))
	}
	return "<" + hex.EncodeToString(buf) + ">"
}

// helveticaWidth returns the advance of s in 1/1000 em using the standard
// Helvetica metrics for ASCII and an average for everything else.
func helveticaWidth(s []byte) float64 {
	var total float64
	for _, c := range s {
		if c >= 32 && c < 127 {
			total += float64(helveticaASCII[c-32])
		} else {
			total += 556
		}
	}
	return total
}

// Helvetica AFM widths for 0x20..0x7e.
var helveticaASCII = [95]int{
	278, 278, 355, 556, 556, 889, 667, 191, 333, 333, 389, 584, 278, 333, 278, 278, // space - /
	556, 556, 556, 556, 556, 556, 556, 556, 556, 556, 278, 278, 584, 584, 584, 556, // 0 - ?
	1015, 667, 667, 722, 722, 667, 611, 778, 722, 278, 500, 667, 556, 833, 722, 778, // @ - O
	667, 778, 722, 667, 611, 722, 667, 944, 667, 667, 611, 278, 278, 278, 469, 556, // P - _
	333, 556, 556, 500, 556, 556, 278, 556, 556, 222, 222, 500, 222, 833, 556, 556, // ` - o
	556, 556, 333, 500, 278, 556, 500, 722, 500, 500, 500, 334, 260, 334, 584, // p - ~
}
