// Package config provides configuration loading and structs for the docrag service.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hyperjump/docrag/internal/models"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	RAG       RAGConfig       `yaml:"rag"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds the vector store location.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// Embedding providers.
const (
	ProviderOpenAI = "openai"
	ProviderMock   = "mock"
)

// EmbeddingConfig holds embedding provider settings. The API key itself is never
// stored here; APIKeyEnv names the environment variable holding it.
type EmbeddingConfig struct {
	Provider          string        `yaml:"provider"`
	BaseURL           string        `yaml:"base_url"`
	Model             string        `yaml:"model"`
	APIKeyEnv         string        `yaml:"api_key_env"`
	Timeout           time.Duration `yaml:"timeout"`
	BatchSize         int           `yaml:"batch_size"`
	MaxRetries        *int          `yaml:"max_retries"`
	RetryBaseDelay    time.Duration `yaml:"retry_base_delay"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	CacheSize         int           `yaml:"cache_size"`
	// Dimensions applies to the mock provider only.
	Dimensions int `yaml:"dimensions"`
}

// APIKey returns the API key from the configured environment variable, or "".
func (e *EmbeddingConfig) APIKey() string {
	if e.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(e.APIKeyEnv)
}

// ChunkingConfig holds text chunker settings, in estimated tokens.
type ChunkingConfig struct {
	MaxChunkSize int  `yaml:"max_chunk_size"`
	Overlap      *int `yaml:"overlap"`
}

// RAGConfig holds the default retrieval settings for context requests.
type RAGConfig struct {
	TopK             int      `yaml:"top_k"`
	MinSimilarity    *float64 `yaml:"min_similarity"`
	MaxContextLength int      `yaml:"max_context_length"`
	IncludeMetadata  *bool    `yaml:"include_metadata"`
}

// Defaults returns the retrieval settings as a models.RAGConfig.
func (r *RAGConfig) Defaults() models.RAGConfig {
	cfg := models.DefaultRAGConfig()
	if r.TopK != 0 {
		cfg.TopK = r.TopK
	}
	if r.MinSimilarity != nil {
		cfg.MinSimilarity = *r.MinSimilarity
	}
	if r.MaxContextLength != 0 {
		cfg.MaxContextLength = r.MaxContextLength
	}
	if r.IncludeMetadata != nil {
		cfg.IncludeMetadata = *r.IncludeMetadata
	}
	return cfg
}

// WatchConfig holds inbox directory settings.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
	Recursive   *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// Load reads and parses the config file at path, applies defaults, expands paths and validates.
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
	expandPaths(&cfg, filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	var cfg Config
	ApplyDefaults(&cfg)
	expandPaths(&cfg, ".")
	return &cfg
}

func expandPaths(cfg *Config, configDir string) {
	if cfg.Storage.DatabasePath != MemoryDatabase {
		cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	}
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}
}

// Validate checks values that have no sensible fallback.
func (c *Config) Validate() error {
	switch c.Embedding.Provider {
	case ProviderOpenAI, ProviderMock:
	default:
		return fmt.Errorf("invalid config: unknown embedding provider %q", c.Embedding.Provider)
	}
	if c.Chunking.MaxChunkSize < 0 || (c.Chunking.Overlap != nil && *c.Chunking.Overlap < 0) {
		return fmt.Errorf("invalid config: chunking sizes must not be negative")
	}
	if err := c.RAG.Defaults().Validate(); err != nil {
		return fmt.Errorf("invalid config: rag: %w", err)
	}
	return nil
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

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir,
// "~/" and other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	path = strings.TrimPrefix(path, "~/")
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
