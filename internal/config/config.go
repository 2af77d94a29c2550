// Package config provides configuration loading and structs for the Kotoba server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables that override file settings.
const (
	EnvEmbeddings = "KOTOBA_EMBEDDINGS"
	EnvDatabase   = "KOTOBA_DATABASE"
	EnvDebug      = "KOTOBA_DEBUG"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Index     IndexConfig     `yaml:"index"`
	Import    ImportConfig    `yaml:"import"`
}

// ImportConfig holds transcript import and directory watch settings.
type ImportConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
	Recursive   *bool    `yaml:"recursive"`
	Concurrency int      `yaml:"concurrency"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (c *ImportConfig) RecursiveOrDefault() bool {
	if c.Recursive != nil {
		return *c.Recursive
	}
	return true
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// InsertRatePerSecond limits POST /api/v1/responses; 0 disables limiting.
	InsertRatePerSecond float64 `yaml:"insert_rate_per_second"`
	InsertBurst         int     `yaml:"insert_burst"`
}

// StorageConfig holds the response table location.
type StorageConfig struct {
	Backend      string        `yaml:"backend"`
	DatabasePath string        `yaml:"database_path"`
	OpenTimeout  time.Duration `yaml:"open_timeout"`
}

// EmbeddingConfig holds word embedding settings.
type EmbeddingConfig struct {
	Path      string `yaml:"path"`
	CacheSize int    `yaml:"cache_size"`
}

// IndexConfig holds HNSW parameters.
type IndexConfig struct {
	M              int    `yaml:"m"`
	M0             int    `yaml:"m0"`
	EFConstruction int    `yaml:"ef_construction"`
	EFSearch       int    `yaml:"ef_search"`
	Seed           uint64 `yaml:"seed"`
}

// Load reads and parses the config file at path, expands paths, applies defaults
// and then environment overrides.
// Returns an error if the file cannot be read or parsed.
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

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Embedding.Path = expandPath(cfg.Embedding.Path, configDir)
	for i := range cfg.Import.Directories {
		cfg.Import.Directories[i] = expandPath(cfg.Import.Directories[i], configDir)
	}

	if err := ApplyEnv(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no config file exists:
// defaults with paths under the home directory, then environment overrides.
func Default() (*Config, error) {
	var cfg Config
	ApplyDefaults(&cfg)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, ".")
	cfg.Embedding.Path = expandPath(cfg.Embedding.Path, ".")
	if err := ApplyEnv(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnv overrides cfg with KOTOBA_* environment variables. Relative paths
// are resolved against the working directory.
func ApplyEnv(cfg *Config) error {
	if v := os.Getenv(EnvEmbeddings); v != "" {
		cfg.Embedding.Path = absPath(v)
	}
	if v := os.Getenv(EnvDatabase); v != "" {
		cfg.Storage.DatabasePath = absPath(v)
	}
	if v := os.Getenv(EnvDebug); v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvDebug, err)
		}
		cfg.Debug = debug
	}
	return nil
}

// Save writes the config to path. Used for persisting import directory add/remove.
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

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if strings.HasPrefix(path, "~/") {
		path = path[2:]
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}

func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
