// Package ocr obtains the raw text layer of invoice documents.
package ocr

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/invoice-cli/internal/config"
)

// ErrExtractionFailure means a document's text could not be obtained. It is
// attributed to the document, never to the extraction engine.
var ErrExtractionFailure = eris.New("ocr: extraction failure")

// Extractor extracts text content and page count from a document.
type Extractor interface {
	ExtractText(ctx context.Context, path string) (text string, pages int, err error)
}

// NewExtractor creates the extractor for cfg. PDFs go through pdftotext;
// .txt files are read as an already extracted text layer.
func NewExtractor(cfg config.OCRConfig) Extractor {
	return &byExtension{
		pdf:  NewPdfToText(cfg.PdfToTextPath),
		text: TextFile{},
	}
}

type byExtension struct {
	pdf  Extractor
	text Extractor
}

func (b *byExtension) ExtractText(ctx context.Context, path string) (string, int, error) {
	if strings.EqualFold(filepath.Ext(path), ".txt") {
		return b.text.ExtractText(ctx, path)
	}
	return b.pdf.ExtractText(ctx, path)
}

// TextFile reads a plain-text dump of a document. Form feeds separate pages.
type TextFile struct{}

// ExtractText implements Extractor.
func (TextFile) ExtractText(_ context.Context, path string) (string, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", 0, failure(err, path)
	}
	return checked(string(data), path)
}

// checked rejects documents without a text layer and counts pages.
func checked(text, path string) (string, int, error) {
	if strings.TrimSpace(strings.ReplaceAll(text, "\f", "")) == "" {
		return "", 0, eris.Wrapf(ErrExtractionFailure, "ocr: %s has no text layer", filepath.Base(path))
	}
	return text, countPages(text), nil
}

func countPages(text string) int {
	n := strings.Count(text, "\f")
	if !strings.HasSuffix(strings.TrimRight(text, " \t\r\n"), "\f") {
		n++
	}
	return n
}

func failure(err error, path string) error {
	return eris.Wrapf(ErrExtractionFailure, "ocr: %s: %v", filepath.Base(path), err)
}
