//go:build !tesseract

package providers

import (
	"context"
	"fmt"
)

// TesseractAvailable reports whether this binary was built with tesseract support.
const TesseractAvailable = false

// ProcessImage always fails: this binary was built without the tesseract tag.
func (t *TesseractOCR) ProcessImage(ctx context.Context, image []byte, pageNum int) (*OCRResult, error) {
	return nil, fmt.Errorf("tesseract: rebuild with -tags tesseract: %w", ErrNotAvailable)
}
