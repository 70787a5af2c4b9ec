package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"unicode"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/jackzampolin/qforge/internal/adapters"
	"github.com/jackzampolin/qforge/internal/providers"
	"github.com/jackzampolin/qforge/internal/types"
)

// DefaultOCRPageLimit bounds how many leading pages may fall back to OCR.
const DefaultOCRPageLimit = 10

// PDFConfig configures the PDF extractor.
type PDFConfig struct {
	// OCR is used for pages without a text layer. Optional.
	OCR providers.OCRProvider
	// OCRPageLimit is the highest page number eligible for OCR fallback.
	OCRPageLimit int
	// Render turns a page into an image for OCR. Defaults to RenderPage.
	Render PageRenderer
	Logger *slog.Logger
}

// PDF extracts the text layer of a PDF, falling back to OCR for image-only pages.
type PDF struct {
	ocr          providers.OCRProvider
	ocrPageLimit int
	render       PageRenderer
	logger       *slog.Logger
}

// NewPDF creates a PDF extractor.
func NewPDF(cfg PDFConfig) *PDF {
	if cfg.OCRPageLimit <= 0 {
		cfg.OCRPageLimit = DefaultOCRPageLimit
	}
	if cfg.Render == nil {
		cfg.Render = RenderPage
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &PDF{
		ocr:          cfg.OCR,
		ocrPageLimit: cfg.OCRPageLimit,
		render:       cfg.Render,
		logger:       cfg.Logger,
	}
}

// Name returns "pdf" or "pdf+ocr:<provider>".
func (p *PDF) Name() string {
	if p.ocr != nil {
		return "pdf+ocr:" + p.ocr.Name()
	}
	return "pdf"
}

// Supports accepts PDF inputs.
func (p *PDF) Supports(in types.Input) bool {
	return in.Format == types.FormatPDF
}

// Extract reads every page. Each page with content is one confidence region.
func (p *PDF) Extract(ctx context.Context, in types.Input) (*types.ExtractionResult, error) {
	if !p.Supports(in) {
		return nil, adapters.Unavailable(p.Name(), opExtract, adapters.ErrUnsupported)
	}
	data, err := loadBytes(in)
	if err != nil {
		return nil, adapters.Invalid(p.Name(), opExtract, err)
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	pdfCtx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), conf)
	if err != nil {
		return nil, adapters.Invalid(p.Name(), opExtract, fmt.Errorf("pdfcpu read: %w", err))
	}

	var (
		pages       []string
		confidences []float64
		usedOCR     bool
	)
	for pageNr := 1; pageNr <= pdfCtx.PageCount; pageNr++ {
		if err := ctx.Err(); err != nil {
			return nil, adapters.Classify(p.Name(), opExtract, err)
		}

		text := pageText(pdfCtx, pageNr)
		if text != "" {
			pages = append(pages, text)
			confidences = append(confidences, textConfidence(text))
			continue
		}

		if p.ocr == nil || pageNr > p.ocrPageLimit || len(pdfcpu.ImageObjNrs(pdfCtx, pageNr)) == 0 {
			continue
		}

		img, err := p.render(ctx, pdfCtx, data, pageNr)
		if err != nil {
			p.logger.Warn("page render failed", "page", pageNr, "error", err)
			continue
		}
		res, err := ocrImage(ctx, p.ocr, img, pageNr)
		if err != nil {
			return nil, classifyProviderError(p.Name(), err)
		}
		usedOCR = true
		if t := strings.TrimSpace(res.Text); t != "" {
			pages = append(pages, t)
		}
		confidences = append(confidences, mean(res.Confidences))
		p.logger.Debug("ocr fallback", "page", pageNr, "chars", len(res.Text))
	}

	method := "text"
	provider := "pdfcpu"
	if usedOCR {
		method = "ocr"
		provider = p.ocr.Name()
	}
	result := &types.ExtractionResult{
		Text:        strings.Join(pages, "\n\n"),
		Confidences: confidences,
		Format:      types.FormatPDF,
		Provider:    provider,
		Method:      method,
		Pages:       pdfCtx.PageCount,
	}
	if result.Confidences == nil {
		result.Confidences = []float64{}
	}
	if err := result.Validate(); err != nil {
		return nil, adapters.Remote(p.Name(), opExtract, err)
	}
	return result, nil
}

// pageText extracts text from a single page via its content stream.
func pageText(ctx *model.Context, pageNr int) string {
	r, err := pdfcpu.ExtractPageContent(ctx, pageNr)
	if err != nil || r == nil {
		return ""
	}
	data, err := io.ReadAll(r)
	if err != nil || len(data) == 0 {
		return ""
	}
	return textFromStream(data)
}

// textConfidence scores extracted text by how printable and wordlike it is.
func textConfidence(text string) float64 {
	return min(1, 0.5*printableRatio(text)+0.5*wordlikeRatio(text))
}

func printableRatio(text string) float64 {
	total, printable := 0, 0
	for _, r := range text {
		total++
		if r == 0xFFFD || (r >= 0xE000 && r <= 0xF8FF) {
			continue
		}
		if unicode.IsPrint(r) || unicode.IsSpace(r) {
			printable++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(printable) / float64(total)
}

func wordlikeRatio(text string) float64 {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return 0
	}
	wordlike := 0
	for _, f := range fields {
		if n := len([]rune(f)); n >= 2 && n <= 15 {
			wordlike++
		}
	}
	return float64(wordlike) / float64(len(fields))
}

var _ adapters.Extractor = (*PDF)(nil)
