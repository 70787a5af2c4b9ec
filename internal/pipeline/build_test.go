package pipeline

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackzampolin/qforge/internal/adapters"
	"github.com/jackzampolin/qforge/internal/config"
	"github.com/jackzampolin/qforge/internal/providers"
)

func names(info []adapters.Info, stage Stage) []string {
	var out []string
	for _, i := range info {
		if i.Stage == string(stage) {
			out = append(out, i.Name)
		}
	}
	return out
}

func TestBuildAdapters(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("offline only", func(t *testing.T) {
		cfg := config.DefaultConfig()
		a := BuildAdapters(cfg, providers.NewRegistry(), logger)

		info := a.Info()
		if got := names(info, StageExtract); len(got) != 1 || got[0] != "pdf" {
			t.Errorf("extractors = %v, want [pdf]", got)
		}
		if got := names(info, StageEnhance); len(got) != 1 || got[0] != "rules" {
			t.Errorf("enhancers = %v, want [rules]", got)
		}
		if got := names(info, StageGenerate); len(got) != 1 || got[0] != "cloze" {
			t.Errorf("generators = %v, want [cloze]", got)
		}
	})

	t.Run("registered providers lead the chains", func(t *testing.T) {
		reg := providers.NewRegistry()
		reg.RegisterLLM("openai", providers.NewMockClient())
		ocr := providers.NewMockOCRProvider()
		reg.RegisterOCR("mistral", ocr)

		cfg := config.DefaultConfig()
		a := BuildAdapters(cfg, reg, logger)

		info := a.Info()
		wantExtract := []string{"ocr:mock-ocr", "pdf+ocr:mock-ocr"}
		if got := names(info, StageExtract); len(got) != 2 || got[0] != wantExtract[0] || got[1] != wantExtract[1] {
			t.Errorf("extractors = %v, want %v", got, wantExtract)
		}
		if got := names(info, StageEnhance); len(got) != 2 || got[0] != "llm:mock" {
			t.Errorf("enhancers = %v", got)
		}
		if got := names(info, StageGenerate); len(got) != 2 || got[1] != "cloze" {
			t.Errorf("generators = %v", got)
		}
	})

	t.Run("unknown names are skipped", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Defaults.Enhancers = []string{"magic", config.AdapterRules}
		cfg.Defaults.Generators = []string{config.AdapterCloze, "oracle"}
		a := BuildAdapters(cfg, providers.NewRegistry(), logger)
		if len(a.Enhancers) != 1 || len(a.Generators) != 1 {
			t.Errorf("got %d enhancers, %d generators", len(a.Enhancers), len(a.Generators))
		}
	})
}

func TestConfig_Apply(t *testing.T) {
	var c Config
	c.Apply(config.DefaultConfig().Pipeline)
	c.applyDefaults()

	if c.ExtractTimeout != 60*time.Second || c.GenerateTimeout != 180*time.Second {
		t.Errorf("timeouts = %v / %v", c.ExtractTimeout, c.GenerateTimeout)
	}
	if c.Backoff != 500*time.Millisecond || c.MaxBackoff != 10*time.Second {
		t.Errorf("backoff = %v / %v", c.Backoff, c.MaxBackoff)
	}
	if c.MaxConcurrent != 4 || c.MaxAttempts != 3 {
		t.Errorf("concurrency = %d attempts = %d", c.MaxConcurrent, c.MaxAttempts)
	}

	var zero Config
	zero.Apply(config.PipelineCfg{})
	zero.applyDefaults()
	if zero.SimilarityThreshold != DefaultSimilarityThreshold {
		t.Errorf("zero config threshold = %v", zero.SimilarityThreshold)
	}
}
