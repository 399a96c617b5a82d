// Package config loads and validates the run configuration: service
// credentials, model selection, panel sizing, and storage locations.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Panel sizing bounds. Requests outside these ranges are clamped, not
// rejected.
const (
	MinExpertCount = 3
	MaxExpertCount = 10
	MinRounds      = 1
	MaxRounds      = 5
)

// GenerationConfig configures the generative text service.
type GenerationConfig struct {
	APIKey        string `yaml:"api_key"`
	BaseURL       string `yaml:"base_url"`
	Model         string `yaml:"model"`
	FallbackModel string `yaml:"fallback_model"`
}

// SearchConfig configures the web search service.
type SearchConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// RunConfig sizes the panel and bounds the loop.
type RunConfig struct {
	ExpertCount int `yaml:"expert_count"`
	MaxRounds   int `yaml:"max_rounds"`
}

// StorageConfig locates the durable artifacts.
type StorageConfig struct {
	ReportDir    string `yaml:"report_dir"`
	LogDir       string `yaml:"log_dir"`
	DatabasePath string `yaml:"database_path"`
}

// Config is the full configuration surface.
type Config struct {
	Generation GenerationConfig `yaml:"generation"`
	Search     SearchConfig     `yaml:"search"`
	Run        RunConfig        `yaml:"run"`
	Storage    StorageConfig    `yaml:"storage"`
	Debug      bool             `yaml:"debug"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Generation: GenerationConfig{
			BaseURL:       "https://api.openai.com/v1",
			Model:         "gpt-4o",
			FallbackModel: "gpt-4o",
		},
		Search: SearchConfig{
			BaseURL:        "https://api.perplexity.ai",
			TimeoutSeconds: 30,
		},
		Run: RunConfig{
			ExpertCount: 5,
			MaxRounds:   3,
		},
		Storage: StorageConfig{
			ReportDir:    "reports",
			LogDir:       "logs",
			DatabasePath: "delphi.db",
		},
	}
}

// Load reads the optional YAML file at path, applies environment overrides,
// and clamps the panel sizing. A missing file is not an error; missing
// credentials are caught by Validate.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.Run.ExpertCount = ClampExpertCount(cfg.Run.ExpertCount)
	cfg.Run.MaxRounds = ClampMaxRounds(cfg.Run.MaxRounds)
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("DELPHI_GENERATION_API_KEY"); v != "" {
		c.Generation.APIKey = v
	} else if v := os.Getenv("OPENAI_API_KEY"); v != "" && c.Generation.APIKey == "" {
		c.Generation.APIKey = v
	}
	if v := os.Getenv("DELPHI_SEARCH_API_KEY"); v != "" {
		c.Search.APIKey = v
	} else if v := os.Getenv("PERPLEXITY_API_KEY"); v != "" && c.Search.APIKey == "" {
		c.Search.APIKey = v
	}
	if v := os.Getenv("DELPHI_MODEL"); v != "" {
		c.Generation.Model = v
	}
}

// Validate checks the startup-fatal requirements. A process with missing
// credentials does not proceed.
func (c *Config) Validate() error {
	if c.Generation.APIKey == "" {
		return fmt.Errorf("generation API key is required (set DELPHI_GENERATION_API_KEY)")
	}
	if c.Search.APIKey == "" {
		return fmt.Errorf("search API key is required (set DELPHI_SEARCH_API_KEY)")
	}
	if c.Generation.Model == "" {
		return fmt.Errorf("generation model must not be empty")
	}
	return nil
}

// ClampExpertCount clamps n to [3,10].
func ClampExpertCount(n int) int {
	if n < MinExpertCount {
		return MinExpertCount
	}
	if n > MaxExpertCount {
		return MaxExpertCount
	}
	return n
}

// ClampMaxRounds clamps n to [1,5].
func ClampMaxRounds(n int) int {
	if n < MinRounds {
		return MinRounds
	}
	if n > MaxRounds {
		return MaxRounds
	}
	return n
}
