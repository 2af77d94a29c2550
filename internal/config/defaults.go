package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.InsertBurst == 0 {
		cfg.Server.InsertBurst = 10
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "bolt"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "~/.kotoba/responses.db"
	}
	if cfg.Storage.OpenTimeout == 0 {
		cfg.Storage.OpenTimeout = 5 * time.Second
	}
	if cfg.Embedding.Path == "" {
		cfg.Embedding.Path = "~/.kotoba/vectors.txt"
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Index.M == 0 {
		cfg.Index.M = 12
	}
	if cfg.Index.M0 == 0 {
		cfg.Index.M0 = 24
	}
	if cfg.Index.EFConstruction == 0 {
		cfg.Index.EFConstruction = 24
	}
	if cfg.Index.EFSearch == 0 {
		cfg.Index.EFSearch = 24
	}
	if cfg.Import.Extensions == nil {
		cfg.Import.Extensions = []string{".txt", ".jsonl"}
	}
	if cfg.Import.Concurrency == 0 {
		cfg.Import.Concurrency = 4
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Import.Directories) > 0 && cfg.Import.Recursive == nil {
		t := true
		cfg.Import.Recursive = &t
	}
}
