package pdf

import (
	"fmt"
	"strings"

	lpdf "github.com/ledongthuc/pdf"
)

// Report summarizes a finished PDF.
type Report struct {
	Pages int      `json:"pages"`
	Text  []string `json:"text,omitempty"`
}

// PageCount opens path and returns its number of pages.
func PageCount(path string) (int, error) {
	f, r, err := lpdf.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()
	return r.NumPage(), nil
}

// Inspect returns the page count and the extracted text of every page.
func Inspect(path string) (*Report, error) {
	f, r, err := lpdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	report := &Report{Pages: r.NumPage()}
	for i := 1; i <= report.Pages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			report.Text = append(report.Text, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract text from page %d: %w", i, err)
		}
		report.Text = append(report.Text, strings.TrimSpace(text))
	}
	return report, nil
}
