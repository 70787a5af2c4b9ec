package extract

import (
	"context"
	"strings"

	"github.com/jackzampolin/qforge/internal/adapters"
	"github.com/jackzampolin/qforge/internal/providers"
	"github.com/jackzampolin/qforge/internal/types"
)

// OCR extracts text from images through an OCR provider.
type OCR struct {
	provider providers.OCRProvider
}

// NewOCR wraps provider as an Extractor.
func NewOCR(provider providers.OCRProvider) *OCR {
	return &OCR{provider: provider}
}

// Name returns "ocr:<provider>".
func (o *OCR) Name() string {
	return "ocr:" + o.provider.Name()
}

// Supports accepts image inputs.
func (o *OCR) Supports(in types.Input) bool {
	return in.Format == types.FormatImage
}

// Extract runs OCR on the image.
func (o *OCR) Extract(ctx context.Context, in types.Input) (*types.ExtractionResult, error) {
	if !o.Supports(in) {
		return nil, adapters.Unavailable(o.Name(), opExtract, adapters.ErrUnsupported)
	}
	data, err := loadBytes(in)
	if err != nil {
		return nil, adapters.Invalid(o.Name(), opExtract, err)
	}

	res, err := ocrImage(ctx, o.provider, data, 1)
	if err != nil {
		return nil, classifyProviderError(o.Name(), err)
	}

	result := &types.ExtractionResult{
		Text:        strings.TrimSpace(res.Text),
		Confidences: res.Confidences,
		Format:      types.FormatImage,
		Provider:    o.provider.Name(),
		Method:      "ocr",
		Pages:       1,
	}
	if result.Confidences == nil {
		result.Confidences = []float64{}
	}
	if err := result.Validate(); err != nil {
		return nil, adapters.Remote(o.Name(), opExtract, err)
	}
	return result, nil
}

var _ adapters.Extractor = (*OCR)(nil)
