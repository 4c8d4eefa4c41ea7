// Package pdf extracts readable text from PDF documents. pdfcpu reads and
// validates the file; page text is decoded through each font's encoding and
// ToUnicode map by ledongthuc/pdf.
package pdf

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	textpdf "github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Extractor pulls the text shown on each page of a PDF
type Extractor struct {
	logger *slog.Logger
}

// NewExtractor creates a new PDF text extractor
func NewExtractor(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{logger: logger}
}

// Extract returns the text of all pages in page order, one page per line
// group. A document without text yields an empty string.
func (e *Extractor) Extract(ctx context.Context, document []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	pdfCtx, err := api.ReadContext(bytes.NewReader(document), conf)
	if err != nil {
		return "", fmt.Errorf("failed to read PDF: %w", err)
	}
	if err := api.ValidateContext(pdfCtx); err != nil {
		// Many producers write files that readers accept but relaxed validation does not.
		e.logger.Warn("PDF failed validation, extracting anyway", "error", err)
	}

	reader, err := textpdf.NewReader(bytes.NewReader(document), int64(len(document)))
	if err != nil {
		return "", fmt.Errorf("failed to open PDF text layer: %w", err)
	}

	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		// Font resource names are page scoped, so fonts are resolved per page.
		text, err := page.GetPlainText(nil)
		if err != nil {
			e.logger.Warn("Skipping unreadable PDF page", "page", i, "error", err)
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(text)
	}

	e.logger.Debug("Extracted PDF text", "pages", pdfCtx.PageCount, "chars", b.Len())
	return b.String(), nil
}
