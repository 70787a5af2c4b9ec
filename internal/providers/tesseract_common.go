package providers

const TesseractName = "tesseract"

// TesseractConfig configures local tesseract OCR.
type TesseractConfig struct {
	Languages []string          // e.g. ["eng"]; empty uses tesseract's default
	Variables map[string]string // tesseract SetVariable pairs
	RateLimit float64
}

// TesseractOCR implements OCRProvider with a local tesseract install.
// ProcessImage is only functional in binaries built with -tags tesseract.
type TesseractOCR struct {
	languages []string
	variables map[string]string
	rateLimit float64
}

// NewTesseractOCR creates a tesseract OCR provider.
func NewTesseractOCR(cfg TesseractConfig) *TesseractOCR {
	return &TesseractOCR{
		languages: cfg.Languages,
		variables: cfg.Variables,
		rateLimit: cfg.RateLimit,
	}
}

// Name returns the provider identifier.
func (t *TesseractOCR) Name() string {
	return TesseractName
}

// RequestsPerSecond returns the configured rate limit.
func (t *TesseractOCR) RequestsPerSecond() float64 {
	return t.rateLimit
}

func clamp01(v float64) float64 {
	return min(1, max(0, v))
}

var _ OCRProvider = (*TesseractOCR)(nil)
