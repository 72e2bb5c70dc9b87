package llm

import (
	"fmt"
	"os"
)

// Factory constructs a provider from its configuration. The registry holds
// a name->Factory map built at configuration load; no reflection involved.
type Factory func(cfg *ProviderConfig) Provider

// builtinFactories maps the known provider names to their constructors.
func builtinFactories() map[string]Factory {
	return map[string]Factory{
		"ollama":     func(cfg *ProviderConfig) Provider { return NewOllamaProvider(cfg) },
		"openai":     func(cfg *ProviderConfig) Provider { return NewOpenAIProvider(cfg) },
		"anthropic":  func(cfg *ProviderConfig) Provider { return NewAnthropicProvider(cfg) },
		"groq":       func(cfg *ProviderConfig) Provider { return NewGroqProvider(cfg) },
		"openrouter": func(cfg *ProviderConfig) Provider { return NewOpenRouterProvider(cfg) },
	}
}

// apiKeyFromEnv retrieves the API key from the provider's standard
// environment variable when the config leaves it empty.
func apiKeyFromEnv(providerName string) string {
	envVars := map[string]string{
		"openai":     "OPENAI_API_KEY",
		"anthropic":  "ANTHROPIC_API_KEY",
		"groq":       "GROQ_API_KEY",
		"openrouter": "OPENROUTER_API_KEY",
	}
	if envVar, ok := envVars[providerName]; ok {
		return os.Getenv(envVar)
	}
	return ""
}

// NewProviderByName creates a provider by name, falling back to environment
// variables for missing API keys.
func NewProviderByName(name string, cfg *ProviderConfig) (Provider, error) {
	factory, ok := builtinFactories()[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}

	if cfg == nil {
		cfg = DefaultConfig(name)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = apiKeyFromEnv(name)
	}

	return factory(cfg), nil
}
