package config

import "strings"

// Config is the top-level application configuration.
type Config struct {
	LLM      LLMConfig      `yaml:"llm"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Flights  FlightsConfig  `yaml:"flights"`
}

type LLMConfig struct {
	Provider    string `yaml:"provider"`
	Model       string `yaml:"model"`
	APIKey      string `yaml:"-"` // environment or keychain only
	BaseURL     string `yaml:"base_url,omitempty"`
	MaxRetries  int    `yaml:"max_retries"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// DispatchConfig controls the requests issued on behalf of a user prompt.
type DispatchConfig struct {
	SystemPrompt    string  `yaml:"system_prompt,omitempty"`
	MaxTokens       int     `yaml:"max_tokens"`
	Temperature     float64 `yaml:"temperature"`
	CallTimeoutSecs int     `yaml:"call_timeout_secs"`
}

type FlightsConfig struct {
	DBPath string `yaml:"db_path,omitempty"` // empty means in-memory
}

// APIKeyEnv returns the environment variable holding the key for provider.
func APIKeyEnv(provider string) string {
	return strings.ToUpper(provider) + "_API_KEY"
}

// SecretName returns the keychain entry name holding the key for provider.
func SecretName(provider string) string {
	return strings.ToLower(provider) + "_api_key"
}
