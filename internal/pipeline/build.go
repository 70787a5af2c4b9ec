package pipeline

import (
	"log/slog"
	"time"

	"github.com/jackzampolin/qforge/internal/adapters"
	"github.com/jackzampolin/qforge/internal/adapters/enhance"
	"github.com/jackzampolin/qforge/internal/adapters/extract"
	"github.com/jackzampolin/qforge/internal/adapters/generate"
	"github.com/jackzampolin/qforge/internal/config"
	"github.com/jackzampolin/qforge/internal/providers"
)

// BuildAdapters assembles the adapter chains selected in cfg.Defaults from
// the providers currently registered in reg. Names whose provider is not
// registered are skipped.
func BuildAdapters(cfg *config.Config, reg *providers.Registry, logger *slog.Logger) Adapters {
	if logger == nil {
		logger = slog.Default()
	}
	var a Adapters

	var firstOCR providers.OCRProvider
	for _, name := range cfg.Defaults.OCRProviders {
		p, err := reg.GetOCR(name)
		if err != nil {
			logger.Debug("OCR provider not available", "name", name, "error", err)
			continue
		}
		if firstOCR == nil {
			firstOCR = p
		}
		a.Extractors = append(a.Extractors, extract.NewOCR(p))
	}
	a.Extractors = append(a.Extractors, extract.NewPDF(extract.PDFConfig{
		OCR:          firstOCR,
		OCRPageLimit: cfg.Pipeline.PDFPageLimit,
		Logger:       logger,
	}))

	llm, llmErr := reg.GetLLM(cfg.Defaults.LLMProvider)
	model := ""
	if p, ok := cfg.GetLLMProvider(cfg.Defaults.LLMProvider); ok {
		model = p.Model
	}

	for _, name := range cfg.Defaults.Enhancers {
		switch name {
		case config.AdapterLLM:
			if llmErr != nil {
				logger.Debug("LLM enhancer skipped", "provider", cfg.Defaults.LLMProvider, "error", llmErr)
				continue
			}
			a.Enhancers = append(a.Enhancers, enhance.NewLLM(enhance.LLMConfig{Client: llm, Model: model, Logger: logger}))
		case config.AdapterRules:
			a.Enhancers = append(a.Enhancers, enhance.NewRules())
		default:
			logger.Warn("unknown enhancer", "name", name)
		}
	}

	for _, name := range cfg.Defaults.Generators {
		switch name {
		case config.AdapterLLM:
			if llmErr != nil {
				logger.Debug("LLM generator skipped", "provider", cfg.Defaults.LLMProvider, "error", llmErr)
				continue
			}
			a.Generators = append(a.Generators, generate.NewLLM(generate.LLMConfig{Client: llm, Model: model, Logger: logger}))
		case config.AdapterCloze:
			a.Generators = append(a.Generators, generate.NewCloze())
		default:
			logger.Warn("unknown generator", "name", name)
		}
	}
	return a
}

// Apply copies the pipeline section of the configuration onto c.
// Zero values keep the package defaults.
func (c *Config) Apply(p config.PipelineCfg) {
	c.ExtractTimeout = time.Duration(p.ExtractTimeoutSeconds) * time.Second
	c.EnhanceTimeout = time.Duration(p.EnhanceTimeoutSeconds) * time.Second
	c.GenerateTimeout = time.Duration(p.GenerateTimeoutSeconds) * time.Second
	c.MaxAttempts = p.MaxAttempts
	c.Backoff = time.Duration(p.BackoffMS) * time.Millisecond
	c.MaxBackoff = time.Duration(p.MaxBackoffMS) * time.Millisecond
	c.SimilarityThreshold = p.SimilarityThreshold
	c.MaxConcurrent = int64(p.MaxConcurrent)
}

var (
	_ adapters.Extractor = (*extract.OCR)(nil)
	_ adapters.Extractor = (*extract.PDF)(nil)
	_ adapters.Enhancer  = (*enhance.LLM)(nil)
	_ adapters.Enhancer  = (*enhance.Rules)(nil)
	_ adapters.Generator = (*generate.LLM)(nil)
	_ adapters.Generator = (*generate.Cloze)(nil)
)
