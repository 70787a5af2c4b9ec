package providers

import (
	"os"
)

// TestConfig holds provider configurations loaded from environment variables.
// This allows tests to use the same configuration pattern as production.
type TestConfig struct {
	OpenRouterAPIKey string
	OpenAIAPIKey     string
	GroqAPIKey       string
	MistralAPIKey    string
}

// LoadTestConfig loads provider API keys from environment variables.
func LoadTestConfig() TestConfig {
	return TestConfig{
		OpenRouterAPIKey: os.Getenv("OPENROUTER_API_KEY"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		GroqAPIKey:       os.Getenv("GROQ_API_KEY"),
		MistralAPIKey:    os.Getenv("MISTRAL_API_KEY"),
	}
}

// HasAnyLLM returns true if any LLM provider is configured.
func (c TestConfig) HasAnyLLM() bool {
	return c.OpenRouterAPIKey != "" || c.OpenAIAPIKey != "" || c.GroqAPIKey != ""
}

// HasAnyOCR returns true if any OCR provider can run.
func (c TestConfig) HasAnyOCR() bool {
	return c.MistralAPIKey != "" || TesseractAvailable
}

// ToRegistryConfig converts test config to a RegistryConfig for the provider registry.
// Only includes providers that can actually be used.
func (c TestConfig) ToRegistryConfig() RegistryConfig {
	cfg := RegistryConfig{
		OCRProviders: make(map[string]OCRProviderConfig),
		LLMProviders: make(map[string]LLMProviderConfig),
	}

	if c.OpenRouterAPIKey != "" {
		cfg.LLMProviders[OpenRouterName] = LLMProviderConfig{
			Type: OpenRouterName, APIKey: c.OpenRouterAPIKey, RateLimit: 2, Enabled: true,
		}
	}
	if c.OpenAIAPIKey != "" {
		cfg.LLMProviders[OpenAIName] = LLMProviderConfig{
			Type: OpenAIName, APIKey: c.OpenAIAPIKey, RateLimit: 2, Enabled: true,
		}
	}
	if c.GroqAPIKey != "" {
		cfg.LLMProviders["groq"] = LLMProviderConfig{
			Type: OpenAIName, APIKey: c.GroqAPIKey, BaseURL: "https://api.groq.com/openai/v1",
			Model: "llama-3.1-8b-instant", RateLimit: 1, Enabled: true,
		}
	}
	if c.MistralAPIKey != "" {
		cfg.OCRProviders[MistralOCRName] = OCRProviderConfig{
			Type: MistralOCRName, APIKey: c.MistralAPIKey, RateLimit: 1, Enabled: true,
		}
	}
	if TesseractAvailable {
		cfg.OCRProviders[TesseractName] = OCRProviderConfig{
			Type: TesseractName, Language: "eng", Enabled: true,
		}
	}
	return cfg
}
