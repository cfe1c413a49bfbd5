// Package config provides configuration loading and structs for the ruiji server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hyperjump/ruiji/internal/models"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Vault     VaultConfig     `yaml:"vault"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Index     IndexConfig     `yaml:"index"`
	Search    SearchConfig    `yaml:"search"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// StorageConfig holds the directory of the embedding stores (one file per model).
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// VaultConfig describes the notes directory and which notes are indexed.
type VaultConfig struct {
	Root           string        `yaml:"root"`
	Extensions     []string      `yaml:"extensions"`
	ExcludeTags    []string      `yaml:"exclude_tags"`
	ExcludeFolders []string      `yaml:"exclude_folders"`
	Watch          *bool         `yaml:"watch"`
	WatchDebounce  time.Duration `yaml:"watch_debounce"`
}

// WatchOrDefault returns whether to watch the vault; defaults to true when unset.
func (v *VaultConfig) WatchOrDefault() bool {
	if v.Watch != nil {
		return *v.Watch
	}
	return true
}

// EmbeddingConfig selects the embedding provider and the gateway limits.
type EmbeddingConfig struct {
	Provider           string        `yaml:"provider"`
	Model              string        `yaml:"model"`
	Version            string        `yaml:"version"`
	Endpoint           string        `yaml:"endpoint"`
	APIKeyEnv          string        `yaml:"api_key_env"`
	Dimensions         int           `yaml:"dimensions"`
	SchemaVersion      int           `yaml:"schema_version"`
	RequestsPerSecond  float64       `yaml:"requests_per_second"`
	MaxConcurrency     int           `yaml:"max_concurrency"`
	MaxOverloadRetries int           `yaml:"max_overload_retries"`
	QueryCacheSize     int           `yaml:"query_cache_size"`
	Timeout            time.Duration `yaml:"timeout"`
}

// Identity returns the model identity stored chunks are tagged with.
func (e EmbeddingConfig) Identity(maxBlockSize int) models.ModelIdentity {
	return models.ModelIdentity{
		Name:          e.Model,
		Version:       e.Version,
		MaxBlockSize:  maxBlockSize,
		SchemaVersion: e.SchemaVersion,
	}
}

// APIKey reads the provider API key from the configured environment variable.
func (e EmbeddingConfig) APIKey() string {
	if e.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(e.APIKeyEnv)
}

// IndexConfig holds chunking and rebuild scheduling settings.
type IndexConfig struct {
	MaxBlockSize      int           `yaml:"max_block_size"`
	PageSize          int           `yaml:"page_size"`
	WaitPeriod        time.Duration `yaml:"wait_period"`
	Debounce          time.Duration `yaml:"debounce"`
	RefreshInterval   time.Duration `yaml:"refresh_interval"`
	AbortTimeout      time.Duration `yaml:"abort_timeout"`
	StopOnError       bool          `yaml:"stop_on_error"`
	SkipStoreErrors   bool          `yaml:"skip_store_errors"`
	ModelSwitchPolicy string        `yaml:"model_switch_policy"`
}

// SearchConfig holds query defaults.
type SearchConfig struct {
	MinSimilarity float64 `yaml:"min_similarity"`
	MaxResults    int     `yaml:"max_results"`
	Aggregation   string  `yaml:"aggregation"`
	ExcerptLength int     `yaml:"excerpt_length"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed, or holds invalid values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configDir := filepath.Dir(path)
	cfg.Storage.DataDir = expandPath(cfg.Storage.DataDir, configDir)
	cfg.Vault.Root = expandPath(cfg.Vault.Root, configDir)

	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Embedding.Provider {
	case "mock":
	case "http":
		if c.Embedding.Endpoint == "" {
			return fmt.Errorf("embedding.endpoint is required for the http provider")
		}
	default:
		return fmt.Errorf("unknown embedding.provider %q", c.Embedding.Provider)
	}
	switch c.Index.ModelSwitchPolicy {
	case "rebuild", "defer":
	default:
		return fmt.Errorf("unknown index.model_switch_policy %q", c.Index.ModelSwitchPolicy)
	}
	switch models.Aggregation(c.Search.Aggregation) {
	case models.AggregateMax, models.AggregateMean:
	default:
		return fmt.Errorf("unknown search.aggregation %q", c.Search.Aggregation)
	}
	if c.Search.MinSimilarity < -1 || c.Search.MinSimilarity > 1 {
		return fmt.Errorf("search.min_similarity must be within [-1, 1], got %v", c.Search.MinSimilarity)
	}
	if c.Index.MaxBlockSize <= 0 {
		return fmt.Errorf("index.max_block_size must be positive, got %d", c.Index.MaxBlockSize)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
