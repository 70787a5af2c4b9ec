package config

// Config holds qforge configuration.
// Stored at: ~/.qforge/config.yaml or ./config.yaml
type Config struct {
	OCRProviders map[string]OCRProviderCfg `mapstructure:"ocr_providers" yaml:"ocr_providers"`
	LLMProviders map[string]LLMProviderCfg `mapstructure:"llm_providers" yaml:"llm_providers"`
	Defaults     DefaultsCfg               `mapstructure:"defaults" yaml:"defaults"`
	Pipeline     PipelineCfg               `mapstructure:"pipeline" yaml:"pipeline"`
	Store        StoreCfg                  `mapstructure:"store" yaml:"store"`
	Defra        DefraConfig               `mapstructure:"defra" yaml:"defra"`
	Server       ServerCfg                 `mapstructure:"server" yaml:"server"`
}

// OCRProviderCfg configures an OCR provider.
type OCRProviderCfg struct {
	Type      string  `mapstructure:"type" yaml:"type"`         // "mistral-ocr", "tesseract", "openai-vision"
	Model     string  `mapstructure:"model" yaml:"model"`       // Model name (openai-vision)
	APIKey    string  `mapstructure:"api_key" yaml:"api_key"`   // API key (supports ${ENV_VAR} syntax)
	BaseURL   string  `mapstructure:"base_url" yaml:"base_url"` // Optional endpoint override
	Language  string  `mapstructure:"language" yaml:"language"` // Tesseract languages, e.g. "eng+fra"
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	Enabled   bool    `mapstructure:"enabled" yaml:"enabled"`
}

// LLMProviderCfg configures an LLM provider.
type LLMProviderCfg struct {
	Type      string  `mapstructure:"type" yaml:"type"` // "openrouter" or "openai"
	Model     string  `mapstructure:"model" yaml:"model"`
	APIKey    string  `mapstructure:"api_key" yaml:"api_key"`
	BaseURL   string  `mapstructure:"base_url" yaml:"base_url"` // Groq, local OpenAI-compatible servers
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"` // Requests per second
	Enabled   bool    `mapstructure:"enabled" yaml:"enabled"`
}

// DefaultsCfg specifies adapter selection and order.
type DefaultsCfg struct {
	OCRProviders []string `mapstructure:"ocr_providers" yaml:"ocr_providers"` // Ordered list of OCR providers
	LLMProvider  string   `mapstructure:"llm_provider" yaml:"llm_provider"`   // Provider for LLM adapters
	Enhancers    []string `mapstructure:"enhancers" yaml:"enhancers"`         // "llm", "rules"
	Generators   []string `mapstructure:"generators" yaml:"generators"`       // "llm", "cloze"
}

// PipelineCfg tunes the coordinator and runner.
type PipelineCfg struct {
	ExtractTimeoutSeconds  int     `mapstructure:"extract_timeout_seconds" yaml:"extract_timeout_seconds"`
	EnhanceTimeoutSeconds  int     `mapstructure:"enhance_timeout_seconds" yaml:"enhance_timeout_seconds"`
	GenerateTimeoutSeconds int     `mapstructure:"generate_timeout_seconds" yaml:"generate_timeout_seconds"`
	MaxAttempts            int     `mapstructure:"max_attempts" yaml:"max_attempts"`
	BackoffMS              int     `mapstructure:"backoff_ms" yaml:"backoff_ms"`
	MaxBackoffMS           int     `mapstructure:"max_backoff_ms" yaml:"max_backoff_ms"`
	SimilarityThreshold    float64 `mapstructure:"similarity_threshold" yaml:"similarity_threshold"`
	MaxConcurrent          int     `mapstructure:"max_concurrent" yaml:"max_concurrent"` // In-flight adapter calls
	Workers                int     `mapstructure:"workers" yaml:"workers"`               // Runs executed in parallel
	QueueSize              int     `mapstructure:"queue_size" yaml:"queue_size"`
	PDFPageLimit           int     `mapstructure:"pdf_page_limit" yaml:"pdf_page_limit"` // Pages eligible for OCR fallback
}

// StoreCfg selects the storage backend.
type StoreCfg struct {
	Backend string `mapstructure:"backend" yaml:"backend"` // "sqlite", "defra" or "memory"
	// Path is the SQLite database file (default: ~/.qforge/data/qforge.db)
	Path string `mapstructure:"path" yaml:"path"`
}

// DefraConfig holds DefraDB container configuration.
type DefraConfig struct {
	// ContainerName is the Docker container name (default: qforge-defra)
	ContainerName string `mapstructure:"container_name" yaml:"container_name"`
	// Image is the Docker image to use (default: sourcenetwork/defradb:latest)
	Image string `mapstructure:"image" yaml:"image"`
	// Port is the host port to bind (default: 9181)
	Port string `mapstructure:"port" yaml:"port"`
}

// ServerCfg configures the HTTP server.
type ServerCfg struct {
	Host        string `mapstructure:"host" yaml:"host"`
	Port        string `mapstructure:"port" yaml:"port"`
	UploadDir   string `mapstructure:"upload_dir" yaml:"upload_dir"` // default: ~/.qforge/uploads
	MaxUploadMB int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb"`
}

// Storage backends.
const (
	BackendSQLite = "sqlite"
	BackendDefra  = "defra"
	BackendMemory = "memory"
)

// Adapter names usable in defaults.enhancers and defaults.generators.
const (
	AdapterLLM   = "llm"
	AdapterRules = "rules"
	AdapterCloze = "cloze"
)

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		OCRProviders: map[string]OCRProviderCfg{
			"mistral": {
				Type:      "mistral-ocr",
				APIKey:    "${MISTRAL_API_KEY}",
				RateLimit: 6.0,
				Enabled:   true,
			},
			"tesseract": {
				Type:     "tesseract",
				Language: "eng",
				Enabled:  true,
			},
		},
		LLMProviders: map[string]LLMProviderCfg{
			"openai": {
				Type:    "openai",
				Model:   "gpt-4o-mini",
				APIKey:  "${OPENAI_API_KEY}",
				Enabled: true,
			},
			"groq": {
				Type:    "openai",
				Model:   "llama-3.3-70b-versatile",
				APIKey:  "${GROQ_API_KEY}",
				BaseURL: "https://api.groq.com/openai/v1",
				Enabled: true,
			},
			"openrouter": {
				Type:    "openrouter",
				Model:   "anthropic/claude-sonnet-4",
				APIKey:  "${OPENROUTER_API_KEY}",
				Enabled: true,
			},
		},
		Defaults: DefaultsCfg{
			OCRProviders: []string{"mistral", "tesseract"},
			LLMProvider:  "openai",
			Enhancers:    []string{AdapterLLM, AdapterRules},
			Generators:   []string{AdapterLLM, AdapterCloze},
		},
		Pipeline: PipelineCfg{
			ExtractTimeoutSeconds:  60,
			EnhanceTimeoutSeconds:  120,
			GenerateTimeoutSeconds: 180,
			MaxAttempts:            3,
			BackoffMS:              500,
			MaxBackoffMS:           10000,
			SimilarityThreshold:    0.6,
			MaxConcurrent:          4,
			Workers:                2,
			QueueSize:              100,
			PDFPageLimit:           10,
		},
		Store: StoreCfg{
			Backend: BackendSQLite,
		},
		Defra: DefraConfig{
			ContainerName: "qforge-defra",
			Image:         "sourcenetwork/defradb:latest",
			Port:          "9181",
		},
		Server: ServerCfg{
			Host:        "127.0.0.1",
			Port:        "8080",
			MaxUploadMB: 20,
		},
	}
}

// GetOCRProvider returns an OCR provider config by name.
func (c *Config) GetOCRProvider(name string) (OCRProviderCfg, bool) {
	cfg, ok := c.OCRProviders[name]
	return cfg, ok
}

// GetLLMProvider returns an LLM provider config by name.
func (c *Config) GetLLMProvider(name string) (LLMProviderCfg, bool) {
	cfg, ok := c.LLMProviders[name]
	return cfg, ok
}

// EnabledOCRProviders returns all enabled OCR providers.
func (c *Config) EnabledOCRProviders() map[string]OCRProviderCfg {
	result := make(map[string]OCRProviderCfg)
	for name, cfg := range c.OCRProviders {
		if cfg.Enabled {
			result[name] = cfg
		}
	}
	return result
}

// EnabledLLMProviders returns all enabled LLM providers.
func (c *Config) EnabledLLMProviders() map[string]LLMProviderCfg {
	result := make(map[string]LLMProviderCfg)
	for name, cfg := range c.LLMProviders {
		if cfg.Enabled {
			result[name] = cfg
		}
	}
	return result
}
