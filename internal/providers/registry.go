package providers

import (
	"cmp"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
)

// providerSet holds one kind of provider by name. cfgs only has entries for
// providers built from config; hand-registered ones have none and survive
// Reload.
type providerSet[T any, C comparable] struct {
	kind  string
	items map[string]T
	cfgs  map[string]C
}

func newProviderSet[T any, C comparable](kind string) providerSet[T, C] {
	return providerSet[T, C]{kind: kind, items: make(map[string]T), cfgs: make(map[string]C)}
}

func (s *providerSet[T, C]) get(name string) (T, error) {
	v, ok := s.items[name]
	if !ok {
		return v, fmt.Errorf("%s not found: %s", s.kind, name)
	}
	return v, nil
}

func (s *providerSet[T, C]) names() []string {
	return slices.Sorted(maps.Keys(s.items))
}

// reconcile makes the config-driven members of s match want. Entries whose
// config is unchanged keep their instance, so rate limiter state survives a
// reload that touches other providers.
func (s *providerSet[T, C]) reconcile(want map[string]C, usable func(C) bool, build func(C) (T, bool), typeOf func(C) string, logger *slog.Logger) {
	keep := make(map[string]bool, len(want))
	for name, c := range want {
		if !usable(c) {
			continue
		}
		old, had := s.cfgs[name]
		if had && old == c {
			keep[name] = true
			continue
		}
		v, ok := build(c)
		if !ok {
			logger.Warn("unknown provider type", "kind", s.kind, "name", name, "type", typeOf(c))
			continue
		}
		s.items[name] = v
		s.cfgs[name] = c
		keep[name] = true
		if had {
			logger.Info("updated provider", "kind", s.kind, "name", name, "type", typeOf(c))
		} else {
			logger.Info("registered provider", "kind", s.kind, "name", name, "type", typeOf(c))
		}
	}
	for name := range s.cfgs {
		if !keep[name] {
			delete(s.items, name)
			delete(s.cfgs, name)
			logger.Info("unregistered provider", "kind", s.kind, "name", name)
		}
	}
}

// Registry holds the LLM clients and OCR providers adapters draw from.
// It is safe for concurrent use and can be rebuilt from config at runtime.
type Registry struct {
	mu     sync.RWMutex
	llm    providerSet[LLMClient, LLMProviderConfig]
	ocr    providerSet[OCRProvider, OCRProviderConfig]
	logger *slog.Logger
}

// NewRegistry creates a new empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		llm:    newProviderSet[LLMClient, LLMProviderConfig]("LLM client"),
		ocr:    newProviderSet[OCRProvider, OCRProviderConfig]("OCR provider"),
		logger: slog.Default(),
	}
}

func (r *Registry) SetLogger(logger *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// RegisterLLM adds client under name, replacing any config-built client.
func (r *Registry) RegisterLLM(name string, client LLMClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm.items[name] = client
	delete(r.llm.cfgs, name)
}

// RegisterOCR adds provider under name, replacing any config-built provider.
func (r *Registry) RegisterOCR(name string, provider OCRProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ocr.items[name] = provider
	delete(r.ocr.cfgs, name)
}

func (r *Registry) GetLLM(name string) (LLMClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.llm.get(name)
}

func (r *Registry) GetOCR(name string) (OCRProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ocr.get(name)
}

// ListLLM returns the registered LLM client names, sorted.
func (r *Registry) ListLLM() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.llm.names()
}

// ListOCR returns the registered OCR provider names, sorted.
func (r *Registry) ListOCR() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ocr.names()
}

func (r *Registry) HasLLM(name string) bool {
	_, err := r.GetLLM(name)
	return err == nil
}

func (r *Registry) HasOCR(name string) bool {
	_, err := r.GetOCR(name)
	return err == nil
}

// ProviderStatus describes one registered provider for status reporting.
type ProviderStatus struct {
	Name    string             `json:"name"`
	Kind    string             `json:"kind"` // "llm" or "ocr"
	Type    string             `json:"type,omitempty"`
	Limiter *RateLimiterStatus `json:"limiter,omitempty"`
}

// Status reports every registered provider, LLM clients first.
func (r *Registry) Status() []ProviderStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ProviderStatus, 0, len(r.llm.items)+len(r.ocr.items))
	add := func(name, kind, typ string, p any) {
		ps := ProviderStatus{Name: name, Kind: kind, Type: typ}
		if st, ok := LimiterStatus(p); ok {
			ps.Limiter = &st
		}
		out = append(out, ps)
	}
	for name, c := range r.llm.items {
		add(name, "llm", r.llm.cfgs[name].Type, c)
	}
	for name, p := range r.ocr.items {
		add(name, "ocr", r.ocr.cfgs[name].Type, p)
	}
	slices.SortFunc(out, func(a, b ProviderStatus) int {
		return cmp.Or(cmp.Compare(a.Kind, b.Kind), cmp.Compare(a.Name, b.Name))
	})
	return out
}

// RegistryConfig defines the providers to instantiate from config.
type RegistryConfig struct {
	OCRProviders map[string]OCRProviderConfig
	LLMProviders map[string]LLMProviderConfig
}

// OCRProviderConfig matches config.OCRProviderCfg with resolved API key.
type OCRProviderConfig struct {
	Type      string  // "mistral-ocr", "tesseract", "openai-vision"
	Model     string  // Model name (openai-vision)
	APIKey    string  // Resolved API key
	BaseURL   string  // Optional endpoint override
	Language  string  // Tesseract languages, "+"-separated (e.g. "eng+fra")
	RateLimit float64 // Requests per second
	Enabled   bool
}

// LLMProviderConfig matches config.LLMProviderCfg with resolved API key.
type LLMProviderConfig struct {
	Type      string  // "openrouter" or "openai"
	Model     string  // Model name
	APIKey    string  // Resolved API key
	BaseURL   string  // Optional endpoint override (Groq, local servers)
	RateLimit float64 // Requests per second
	Enabled   bool
}

// NewRegistryFromConfig creates a registry holding the usable providers in cfg.
func NewRegistryFromConfig(cfg RegistryConfig) *Registry {
	r := NewRegistry()
	r.Reload(cfg)
	return r
}

// Reload rebuilds the config-driven providers from cfg. Disabled providers
// and those missing a required API key are dropped; changed ones are rebuilt.
func (r *Registry) Reload(cfg RegistryConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.llm.reconcile(cfg.LLMProviders,
		func(c LLMProviderConfig) bool { return c.Enabled && c.APIKey != "" },
		func(c LLMProviderConfig) (LLMClient, bool) {
			client := createLLMClient(c)
			if client == nil {
				return nil, false
			}
			return WithLLMRateLimit(client, c.RateLimit), true
		},
		func(c LLMProviderConfig) string { return c.Type },
		r.logger)

	r.ocr.reconcile(cfg.OCRProviders,
		func(c OCRProviderConfig) bool { return c.Enabled && (c.Type == TesseractName || c.APIKey != "") },
		func(c OCRProviderConfig) (OCRProvider, bool) {
			p := createOCRProvider(c)
			if p == nil {
				return nil, false
			}
			return WithOCRRateLimit(p), true
		},
		func(c OCRProviderConfig) string { return c.Type },
		r.logger)
}

// createLLMClient creates an LLM client based on provider type.
func createLLMClient(cfg LLMProviderConfig) LLMClient {
	switch cfg.Type {
	case OpenRouterName:
		return NewOpenRouterClient(OpenRouterConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
		})
	case OpenAIName:
		return NewOpenAIClient(OpenAIConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
		})
	default:
		return nil
	}
}

// createOCRProvider creates an OCR provider based on provider type.
func createOCRProvider(cfg OCRProviderConfig) OCRProvider {
	switch cfg.Type {
	case MistralOCRName:
		return NewMistralOCRClient(MistralOCRConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			RateLimit: cfg.RateLimit,
		})
	case TesseractName:
		var langs []string
		if cfg.Language != "" {
			langs = strings.Split(cfg.Language, "+")
		}
		return NewTesseractOCR(TesseractConfig{Languages: langs, RateLimit: cfg.RateLimit})
	case OpenAIVisionName:
		return NewOpenAIVisionOCR(OpenAIVisionConfig{
			OpenAIConfig: OpenAIConfig{
				APIKey:       cfg.APIKey,
				BaseURL:      cfg.BaseURL,
				DefaultModel: cfg.Model,
			},
			RateLimit: cfg.RateLimit,
		})
	default:
		return nil
	}
}
