// Package config loads the provider and model catalog the client runs
// against. The catalog is a YAML file with optional fragment files merged
// from a providers.d directory, environment variable expansion, and env
// overrides for credentials. The loaded catalog is read-only to the
// request core.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/inkdrift/aicore/ai"
)

// Provider is one upstream API entry in the catalog.
type Provider struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
}

// Model is one model entry in the catalog.
type Model struct {
	Name            string  `yaml:"name"`
	DisplayName     string  `yaml:"display_name"`
	Provider        string  `yaml:"provider"`
	Temperature     float64 `yaml:"temperature"`
	TopP            float64 `yaml:"top_p"`
	MaxOutputTokens int     `yaml:"max_output_tokens"`
	APIFormat       string  `yaml:"api_format"`
	ReasoningEffort string  `yaml:"reasoning_effort"`
}

// Config is the complete catalog.
type Config struct {
	Providers []Provider `yaml:"providers"`
	Models    []Model    `yaml:"models"`
}

// fragmentGlob locates split provider files relative to the main catalog.
const fragmentGlob = "providers.d/**/*.yaml"

// Load reads the catalog at path, merges providers.d fragments found next
// to it, expands ${ENV} references in the YAML text, applies environment
// overrides for API keys, and validates the result. A .env file in the
// working directory is loaded first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err == nil {
		logrus.Debug("Loaded environment from .env file")
	}

	if path == "" {
		path = "aicore.yaml"
	}

	cfg := &Config{}
	if err := readInto(cfg, path); err != nil {
		return nil, err
	}
	logrus.WithField("config_file", path).Info("Loaded provider catalog")

	if err := mergeFragments(cfg, filepath.Dir(path)); err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// readInto parses one YAML file into cfg after environment expansion.
func readInto(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	expanded := os.ExpandEnv(string(raw))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// mergeFragments appends providers and models from every fragment file
// under dir's providers.d tree, in glob order.
func mergeFragments(cfg *Config, dir string) error {
	matches, err := doublestar.Glob(os.DirFS(dir), fragmentGlob)
	if err != nil {
		return fmt.Errorf("failed to scan provider fragments: %w", err)
	}
	for _, match := range matches {
		fragment := &Config{}
		if err := readInto(fragment, filepath.Join(dir, match)); err != nil {
			return err
		}
		cfg.Providers = append(cfg.Providers, fragment.Providers...)
		cfg.Models = append(cfg.Models, fragment.Models...)
		logrus.WithFields(logrus.Fields{
			"fragment":  match,
			"providers": len(fragment.Providers),
			"models":    len(fragment.Models),
		}).Info("Merged provider fragment")
	}
	return nil
}

// applyEnvironmentOverrides fills in API keys from <PROVIDER_ID>_API_KEY
// variables so keys never have to live in the catalog file itself.
func applyEnvironmentOverrides(cfg *Config) {
	for i := range cfg.Providers {
		envKey := strings.ToUpper(strings.ReplaceAll(cfg.Providers[i].ID, "-", "_")) + "_API_KEY"
		if val := os.Getenv(envKey); val != "" {
			cfg.Providers[i].APIKey = val
		}
	}
}

// validate rejects catalogs the request core could not act on.
func validate(cfg *Config) error {
	var errs []string

	seen := map[string]bool{}
	for _, p := range cfg.Providers {
		if p.ID == "" {
			errs = append(errs, "provider with empty id")
			continue
		}
		if seen[p.ID] {
			errs = append(errs, fmt.Sprintf("duplicate provider id %q", p.ID))
		}
		seen[p.ID] = true
		if p.Endpoint == "" {
			errs = append(errs, fmt.Sprintf("provider %q has no endpoint", p.ID))
		}
		if p.APIKey == "" {
			logrus.WithField("provider", p.ID).Warn("Provider has no API key configured")
		}
	}

	for _, m := range cfg.Models {
		if m.Name == "" {
			errs = append(errs, "model with empty name")
			continue
		}
		if m.Provider != "" && !seen[m.Provider] {
			errs = append(errs, fmt.Sprintf("model %q references unknown provider %q", m.Name, m.Provider))
		}
		switch ai.Format(m.APIFormat) {
		case ai.FormatChatCompletions, ai.FormatResponses:
		default:
			errs = append(errs, fmt.Sprintf("model %q has unknown api_format %q", m.Name, m.APIFormat))
		}
		if !ai.Effort(m.ReasoningEffort).Valid() {
			errs = append(errs, fmt.Sprintf("model %q has invalid reasoning_effort %q", m.Name, m.ReasoningEffort))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Provider returns the catalog entry with the given id as a client-ready
// value, or false when absent.
func (c *Config) Provider(id string) (ai.Provider, bool) {
	for _, p := range c.Providers {
		if p.ID == id {
			return ai.Provider{
				ID:       p.ID,
				Name:     p.Name,
				Endpoint: p.Endpoint,
				APIKey:   p.APIKey,
			}, true
		}
	}
	return ai.Provider{}, false
}

// Model returns the catalog entry with the given name as a client-ready
// value, or false when absent.
func (c *Config) Model(name string) (ai.ModelConfig, bool) {
	for _, m := range c.Models {
		if m.Name == name {
			return ai.ModelConfig{
				Name:            m.Name,
				DisplayName:     m.DisplayName,
				Temperature:     m.Temperature,
				TopP:            m.TopP,
				MaxOutputTokens: m.MaxOutputTokens,
				APIFormat:       ai.Format(m.APIFormat),
				ReasoningEffort: ai.Effort(m.ReasoningEffort),
			}, true
		}
	}
	return ai.ModelConfig{}, false
}

// ProviderFor resolves the provider a model entry points at.
func (c *Config) ProviderFor(model string) (ai.Provider, bool) {
	for _, m := range c.Models {
		if m.Name == model {
			return c.Provider(m.Provider)
		}
	}
	return ai.Provider{}, false
}
