package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// FileName is the per-directory config file looked up in the base directory
	FileName = ".deskorg.yaml"
	// DotEnvFile holds environment variables for the base directory, usually API keys
	DotEnvFile = ".env"
)

// ClassifierConfig selects and tunes the categorization backend.
type ClassifierConfig struct {
	Provider      string        `yaml:"provider"` // "openai", "anthropic" or "voyage"
	Model         string        `yaml:"model"`
	APIKey        string        `yaml:"api_key"`
	BaseURL       string        `yaml:"base_url,omitempty"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxChunkChars int           `yaml:"max_chunk_chars"`
	MaxChunks     int           `yaml:"max_chunks"`
	RateLimit     int           `yaml:"rate_limit"` // requests per minute
	Burst         int           `yaml:"burst"`
	Retries       int           `yaml:"retries"`
	RetryBackoff  time.Duration `yaml:"retry_backoff"`
	Categories    []string      `yaml:"categories,omitempty"` // fixed set for the voyage provider
	MinSimilarity float64       `yaml:"min_similarity"`
}

// ExtractConfig tunes the content extractors.
type ExtractConfig struct {
	MaxChars         int           `yaml:"max_chars"`
	VisionModel      string        `yaml:"vision_model,omitempty"`
	VisionAPIKey     string        `yaml:"vision_api_key,omitempty"`
	VisionBaseURL    string        `yaml:"vision_base_url,omitempty"`
	ImageMaxWidth    int           `yaml:"image_max_width"`
	OfficeLicenseKey string        `yaml:"office_license_key,omitempty"`
	FetchTimeout     time.Duration `yaml:"fetch_timeout"`
}

// OrganizerConfig names the bookkeeping files and sets parallelism.
type OrganizerConfig struct {
	Workers       int    `yaml:"workers"`
	ExclusionFile string `yaml:"exclusion_file"`
	SelectionFile string `yaml:"selection_file"`
	RollbackFile  string `yaml:"rollback_file"`
}

// TagsConfig selects the tag store backend.
type TagsConfig struct {
	Backend string `yaml:"backend"` // "json" or "sqlite"
	File    string `yaml:"file,omitempty"`
}

// LogConfig controls logrus output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// Config is the root of .deskorg.yaml.
type Config struct {
	Classifier ClassifierConfig `yaml:"classifier"`
	Extract    ExtractConfig    `yaml:"extract"`
	Organizer  OrganizerConfig  `yaml:"organizer"`
	Tags       TagsConfig       `yaml:"tags"`
	Log        LogConfig        `yaml:"log"`
}

// Default returns a Config with every field set.
func Default() Config {
	return Config{
		Classifier: ClassifierConfig{
			Provider:      "openai",
			Timeout:       60 * time.Second,
			MaxChunkChars: 4000,
			MaxChunks:     4,
			RateLimit:     30,
			Burst:         1,
			Retries:       3,
			RetryBackoff:  time.Second,
			MinSimilarity: 0.3,
		},
		Extract: ExtractConfig{
			MaxChars:      20000,
			ImageMaxWidth: 1024,
			FetchTimeout:  30 * time.Second,
		},
		Organizer: OrganizerConfig{
			Workers:       1,
			ExclusionFile: ".excluded_dirs",
			SelectionFile: ".selected_files",
			RollbackFile:  ".deskorg_rollback.json",
		},
		Tags: TagsConfig{
			Backend: "json",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the config at path, expanding ${VAR} references, on top of the
// defaults. An empty path means defaults only.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		cfg.applyEnv()
		return &cfg, cfg.validate()
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(raw))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// Resolve picks the config file to use: explicit path first, then the one in
// baseDir if present, else none.
func Resolve(explicit, baseDir string) string {
	if explicit != "" {
		return explicit
	}
	candidate := filepath.Join(baseDir, FileName)
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return ""
}

// LoadDotEnv sets the variables of <baseDir>/.env that are not already set in
// the environment. A missing file is not an error.
func LoadDotEnv(baseDir string) error {
	path := filepath.Join(baseDir, DotEnvFile)
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// applyEnv fills API keys left empty from the provider's usual variable
func (c *Config) applyEnv() {
	if c.Classifier.APIKey == "" {
		c.Classifier.APIKey = os.Getenv(ProviderKeyEnv(c.Classifier.Provider))
	}
	if c.Extract.VisionModel != "" && c.Extract.VisionAPIKey == "" {
		c.Extract.VisionAPIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.Extract.OfficeLicenseKey == "" {
		c.Extract.OfficeLicenseKey = os.Getenv("UNIDOC_LICENSE_API_KEY")
	}
}

// ProviderKeyEnv returns the environment variable holding a provider's API key
func ProviderKeyEnv(provider string) string {
	switch provider {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "voyage":
		return "VOYAGE_API_KEY"
	default:
		return "OPENAI_API_KEY"
	}
}

func (c *Config) validate() error {
	switch c.Classifier.Provider {
	case "openai", "anthropic":
	case "voyage":
		if len(c.Classifier.Categories) == 0 {
			return errors.New("classifier.categories is required for the voyage provider")
		}
	default:
		return fmt.Errorf("unknown classifier.provider %q", c.Classifier.Provider)
	}
	if c.Classifier.MaxChunkChars < 1 {
		return errors.New("classifier.max_chunk_chars must be positive")
	}
	if c.Classifier.MaxChunks < 1 {
		return errors.New("classifier.max_chunks must be positive")
	}
	if c.Classifier.RateLimit < 1 || c.Classifier.Burst < 1 {
		return errors.New("classifier.rate_limit and classifier.burst must be positive")
	}
	if c.Classifier.Retries < 0 {
		return errors.New("classifier.retries must not be negative")
	}
	if c.Organizer.Workers < 1 {
		return errors.New("organizer.workers must be at least 1")
	}
	switch c.Tags.Backend {
	case "json", "sqlite":
	default:
		return fmt.Errorf("unknown tags.backend %q", c.Tags.Backend)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log.format %q", c.Log.Format)
	}
	return nil
}

// TagFile returns the tag store file name for the configured backend
func (c *Config) TagFile() string {
	if c.Tags.File != "" {
		return c.Tags.File
	}
	if c.Tags.Backend == "sqlite" {
		return ".deskorg_tags.db"
	}
	return ".deskorg_tags.json"
}

// ToolFiles lists the bookkeeping file names the organizer must never move
func (c *Config) ToolFiles() []string {
	return []string{
		FileName,
		DotEnvFile,
		c.Organizer.ExclusionFile,
		c.Organizer.SelectionFile,
		c.Organizer.RollbackFile,
		c.TagFile(),
	}
}
