// Package extract provides Extractor adapters: OCR for images and direct
// text extraction (with OCR fallback) for PDFs.
package extract

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jackzampolin/qforge/internal/adapters"
	"github.com/jackzampolin/qforge/internal/providers"
	"github.com/jackzampolin/qforge/internal/types"
)

const opExtract = "extract"

// loadBytes returns the input payload, reading it from disk when only a path is set.
func loadBytes(in types.Input) ([]byte, error) {
	if len(in.Data) > 0 {
		return in.Data, nil
	}
	if in.Path == "" {
		return nil, errors.New("input has no data or path")
	}
	data, err := os.ReadFile(in.Path)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("input file is empty")
	}
	return data, nil
}

// classifyProviderError maps OCR provider failures onto adapter kinds.
func classifyProviderError(adapter string, err error) error {
	return adapters.ClassifyProvider(adapter, opExtract, err)
}

func clampConfidences(cs []float64) []float64 {
	out := make([]float64, len(cs))
	for i, c := range cs {
		out[i] = min(1, max(0, c))
	}
	return out
}

func mean(cs []float64) float64 {
	if len(cs) == 0 {
		return 0
	}
	var sum float64
	for _, c := range cs {
		sum += c
	}
	return sum / float64(len(cs))
}

// ocrImage runs provider on a single image and normalizes the result.
func ocrImage(ctx context.Context, provider providers.OCRProvider, image []byte, page int) (*providers.OCRResult, error) {
	res, err := provider.ProcessImage(ctx, image, page)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, errors.New("provider returned no result")
	}
	res.Confidences = clampConfidences(res.Confidences)
	return res, nil
}
