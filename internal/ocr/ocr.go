// Package ocr extracts printed text from candidate product images so
// the validator can check for brand and variant words on the packaging.
package ocr

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/shelfline/curator-cli/internal/config"
)

// Extractor extracts visible text from image bytes.
type Extractor interface {
	ExtractText(ctx context.Context, image []byte) (string, error)
}

// NewExtractor creates an Extractor based on config.
func NewExtractor(cfg config.OCRConfig) (Extractor, error) {
	switch cfg.Provider {
	case "service", "":
		if cfg.BaseURL == "" {
			return nil, eris.New("ocr: service provider requires base_url")
		}
		return NewHTTPExtractor(cfg), nil
	case "tesseract":
		return NewTesseract(""), nil
	default:
		return nil, eris.Errorf("ocr: unknown provider %q", cfg.Provider)
	}
}
