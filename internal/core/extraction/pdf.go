package extraction

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"code.sajari.com/docconv"
	"github.com/ledongthuc/pdf"
)

// PDFExtractor reads text layers natively and falls back to docconv (pdftotext)
// when the native reader fails or finds nothing.
type PDFExtractor struct {
	useFallback bool
}

func NewPDFExtractor(useFallback bool) *PDFExtractor {
	return &PDFExtractor{useFallback: useFallback}
}

func (e *PDFExtractor) ExtractText(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("empty PDF content")
	}

	text, nativeErr := readPDF(data)
	if nativeErr == nil && text != "" {
		return text, nil
	}
	if !e.useFallback {
		return text, nativeErr
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	res, err := docconv.Convert(bytes.NewReader(data), "application/pdf", false)
	if err != nil {
		if nativeErr != nil {
			return "", fmt.Errorf("open pdf: %w (docconv: %v)", nativeErr, err)
		}
		return "", fmt.Errorf("docconv: %w", err)
	}
	return strings.TrimSpace(res.Body), nil
}

// readPDF walks the pages with ledongthuc/pdf, skipping unreadable ones.
func readPDF(data []byte) (out string, err error) {
	// The parser panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		pageText = strings.TrimSpace(pageText)
		if pageText == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(pageText)
	}
	return b.String(), nil
}
