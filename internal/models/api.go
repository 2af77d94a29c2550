package models

// InsertRequest is the body of POST /api/v1/responses.
type InsertRequest struct {
	Prompt   string   `json:"prompt"`
	Response Response `json:"response"`
}

// RespondRequest is the body of POST /api/v1/respond.
type RespondRequest struct {
	Prompt string `json:"prompt"`
}

// RespondResult is returned for a successful respond call.
type RespondResult struct {
	Prompt   string   `json:"prompt"`
	Response Response `json:"response"`
}

// Stats describes the current state of the response store.
type Stats struct {
	IndexSize           int   `json:"index_size"`
	StoredPrompts       int64 `json:"stored_prompts"`
	EmbeddingWords      int   `json:"embedding_words"`
	EmbeddingDimensions int   `json:"embedding_dimensions"`
}

// ImportSummary reports the outcome of learning one transcript file.
type ImportSummary struct {
	RunID     string `json:"run_id"`
	Path      string `json:"path"`
	Pairs     int    `json:"pairs"`
	Inserted  int    `json:"inserted"`
	Skipped   int    `json:"skipped"`
	Unchanged bool   `json:"unchanged,omitempty"`
}

// StatusConfig is the configuration summary included in a status report.
type StatusConfig struct {
	StorageBackend string `json:"storage_backend"`
	DatabasePath   string `json:"database_path,omitempty"`
	EmbeddingPath  string `json:"embedding_path,omitempty"`
	IndexM         int    `json:"index_m"`
	IndexM0        int    `json:"index_m0"`
	EFConstruction int    `json:"ef_construction"`
	EFSearch       int    `json:"ef_search"`
}

// Status is the shape of GET /api/v1/status.
type Status struct {
	Stats
	DiskUsageBytes *int64        `json:"disk_usage_bytes,omitempty"`
	Config         *StatusConfig `json:"config,omitempty"`
}
