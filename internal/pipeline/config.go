package pipeline

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/qforge/internal/adapters"
	"github.com/jackzampolin/qforge/internal/metrics"
	"github.com/jackzampolin/qforge/internal/store"
)

// Defaults for Config fields left at their zero value.
const (
	DefaultExtractTimeout      = 60 * time.Second
	DefaultEnhanceTimeout      = 120 * time.Second
	DefaultGenerateTimeout     = 180 * time.Second
	DefaultMaxAttempts         = 3
	DefaultBackoff             = 500 * time.Millisecond
	DefaultMaxBackoff          = 10 * time.Second
	DefaultSimilarityThreshold = 0.6
	DefaultMaxConcurrent       = 4
)

// Adapters are the capability chains for each stage, tried in order.
type Adapters struct {
	Extractors []adapters.Extractor
	Enhancers  []adapters.Enhancer
	Generators []adapters.Generator
}

// Info lists the adapter names per stage.
func (a Adapters) Info() []adapters.Info {
	var out []adapters.Info
	for _, e := range a.Extractors {
		out = append(out, adapters.Info{Name: e.Name(), Stage: string(StageExtract)})
	}
	for _, e := range a.Enhancers {
		out = append(out, adapters.Info{Name: e.Name(), Stage: string(StageEnhance)})
	}
	for _, g := range a.Generators {
		out = append(out, adapters.Info{Name: g.Name(), Stage: string(StageGenerate)})
	}
	return out
}

// Config configures a Coordinator.
type Config struct {
	Store    store.Store
	Adapters Adapters
	Metrics  *metrics.Recorder
	Logger   *slog.Logger

	ExtractTimeout  time.Duration
	EnhanceTimeout  time.Duration
	GenerateTimeout time.Duration

	// MaxAttempts bounds attempts per adapter, first call included.
	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration

	// SimilarityThreshold is the minimum similarity an enhancement must exceed.
	SimilarityThreshold float64

	// MaxConcurrent bounds in-flight adapter calls across all runs.
	MaxConcurrent int64

	Now   func() time.Time
	NewID func() string
}

func (c *Config) applyDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.ExtractTimeout <= 0 {
		c.ExtractTimeout = DefaultExtractTimeout
	}
	if c.EnhanceTimeout <= 0 {
		c.EnhanceTimeout = DefaultEnhanceTimeout
	}
	if c.GenerateTimeout <= 0 {
		c.GenerateTimeout = DefaultGenerateTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Backoff <= 0 {
		c.Backoff = DefaultBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.SimilarityThreshold <= 0 {
		c.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}
	if c.NewID == nil {
		c.NewID = func() string { return uuid.Must(uuid.NewV7()).String() }
	}
}
