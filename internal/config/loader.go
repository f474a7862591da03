package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"slices"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"agency/internal/security"
)

const DefaultFile = "agency.yaml"

// SecretStore resolves named secrets, e.g. from the OS keychain. Get wraps
// security.ErrNotFound when no entry exists.
type SecretStore interface {
	Get(name string) (string, error)
}

// Loader assembles a Config from defaults, an optional YAML file, optional
// .env files, the process environment and a secret store, in that order of
// increasing precedence.
type Loader struct {
	filePath string
	envFiles []string
	secrets  SecretStore
}

// NewLoader creates a loader reading filePath (DefaultFile when empty) and
// the .env file in the working directory.
func NewLoader(filePath string) *Loader {
	if filePath == "" {
		filePath = DefaultFile
	}
	return &Loader{
		filePath: filePath,
		envFiles: []string{".env"},
	}
}

// WithSecrets sets the store consulted when no API key is in the environment.
func (l *Loader) WithSecrets(s SecretStore) *Loader {
	l.secrets = s
	return l
}

// WithEnvFiles replaces the list of .env files to load.
func (l *Loader) WithEnvFiles(files ...string) *Loader {
	l.envFiles = files
	return l
}

// Load reads the configuration and validates it. A missing config file or
// .env file is not an error; a missing API key is.
func (l *Loader) Load() (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(l.filePath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", l.filePath, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("read %s: %w", l.filePath, err)
	}

	for _, f := range l.envFiles {
		// godotenv never overrides variables already set in the environment.
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			log.Printf("[config] failed to load %s: %v", f, err)
		}
	}

	applyEnv(cfg)
	applyProviderDefaults(cfg)
	secretErr := l.resolveAPIKey(cfg)

	if err := Validate(cfg); err != nil {
		var cfgErr *ConfigurationError
		if secretErr != nil && errors.As(err, &cfgErr) && errors.Is(cfgErr, ErrMissingCredential) {
			cfgErr.Reason += fmt.Sprintf(" (keychain lookup failed: %v)", secretErr)
		}
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("AGENCY_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("AGENCY_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("AGENCY_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
}

// resolveAPIKey prefers the environment over the secret store. A store that
// has no entry is not an error; any other store failure is logged and
// returned so a missing key can be explained.
func (l *Loader) resolveAPIKey(cfg *Config) error {
	if key := os.Getenv(APIKeyEnv(cfg.LLM.Provider)); key != "" {
		cfg.LLM.APIKey = key
		return nil
	}
	if l.secrets == nil {
		return nil
	}
	name := SecretName(cfg.LLM.Provider)
	key, err := l.secrets.Get(name)
	if errors.Is(err, security.ErrNotFound) {
		return nil
	}
	if err != nil {
		log.Printf("[config] keychain lookup of %s failed: %v", name, err)
		return err
	}
	cfg.LLM.APIKey = key
	return nil
}

// Validate checks the fields every command depends on.
func Validate(cfg *Config) error {
	if !slices.Contains(KnownProviders, cfg.LLM.Provider) {
		return &ConfigurationError{
			Field:  "llm.provider",
			Reason: fmt.Sprintf("unknown provider %q", cfg.LLM.Provider),
			Err:    ErrUnknownProvider,
		}
	}
	if cfg.LLM.APIKey == "" {
		return &ConfigurationError{
			Field:  "llm.api_key",
			Reason: fmt.Sprintf("%s is not set and no keychain entry %q exists", APIKeyEnv(cfg.LLM.Provider), SecretName(cfg.LLM.Provider)),
			Err:    ErrMissingCredential,
		}
	}
	if cfg.LLM.MaxRetries < 0 {
		return &ConfigurationError{Field: "llm.max_retries", Reason: "must not be negative", Err: ErrInvalidValue}
	}
	if cfg.Dispatch.CallTimeoutSecs < 0 {
		return &ConfigurationError{Field: "dispatch.call_timeout_secs", Reason: "must not be negative", Err: ErrInvalidValue}
	}
	return nil
}

// FilePath returns the config file path.
func (l *Loader) FilePath() string {
	return l.filePath
}
