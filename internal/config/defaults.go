package config

// Defaults returns a Config with sensible default values. The model and base
// URL are left empty and filled per provider by the loader.
func Defaults() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:    "openai",
			MaxRetries:  0,
			TimeoutSecs: 60,
		},
		Dispatch: DispatchConfig{
			CallTimeoutSecs: 60,
		},
	}
}

// KnownProviders lists the provider names NewProvider understands.
var KnownProviders = []string{"openai", "openrouter", "local", "anthropic"}

var defaultModels = map[string]string{
	"openai":     "gpt-4o-mini",
	"openrouter": "openai/gpt-4o-mini",
	"local":      "llama3.1",
	"anthropic":  "claude-sonnet-4-5-20250514",
}

var defaultBaseURLs = map[string]string{
	"openrouter": "https://openrouter.ai/api/v1/",
	"local":      "http://localhost:11434/v1/",
}

// applyProviderDefaults fills the model and base URL the user left unset.
func applyProviderDefaults(cfg *Config) {
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = defaultModels[cfg.LLM.Provider]
	}
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = defaultBaseURLs[cfg.LLM.Provider]
	}
}
