package extraction

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/markdave123-py/Cardify/internal/core"
	apperrors "github.com/markdave123-py/Cardify/internal/pkg/errors"
)

// ErrNoTextExtracted is returned when a file was read but produced only whitespace.
var ErrNoTextExtracted = apperrors.New("no text extracted")

// Extractor reads plain text out of one kind of file.
type Extractor interface {
	ExtractText(ctx context.Context, data []byte) (string, error)
}

// Registry picks an Extractor from the file extension.
type Registry struct {
	byExt map[string]Extractor
}

var _ core.TextExtractor = (*Registry)(nil)

// NewRegistry wires PDFs and images. A nil image extractor leaves images unsupported.
func NewRegistry(pdf Extractor, image Extractor) *Registry {
	r := &Registry{byExt: map[string]Extractor{}}
	if pdf != nil {
		r.byExt[".pdf"] = pdf
	}
	if image != nil {
		for _, ext := range []string{".png", ".jpg", ".jpeg"} {
			r.byExt[ext] = image
		}
	}
	return r
}

// Supports reports whether fileName has an extension the registry can read.
func (r *Registry) Supports(fileName string) bool {
	_, ok := r.byExt[strings.ToLower(filepath.Ext(fileName))]
	return ok
}

func (r *Registry) Extract(ctx context.Context, fileName string, data []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	ex, ok := r.byExt[ext]
	if !ok {
		return "", apperrors.Permanent(fmt.Errorf("unsupported file type: %q", ext))
	}

	text, err := ex.ExtractText(ctx, data)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", ext, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrNoTextExtracted
	}
	return text, nil
}
