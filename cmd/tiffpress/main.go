package main

import (
	"github.com/thoscut/tiffpress/internal/cli"

	// Registers the in-process "tesseract" OCR engine.
	_ "github.com/thoscut/tiffpress/internal/ocr/tesseract"
)

func main() {
	cli.Execute()
}
