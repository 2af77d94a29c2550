// Package cli provides CLI output helpers for Kotoba.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/hyperjump/kotoba/internal/models"
	"github.com/hyperjump/kotoba/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputText, OutputJSON:
		return OutputFormat(s), nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteResponse writes a respond result. Text output is the plain response
// alone so it can be piped.
func WriteResponse(w io.Writer, result models.RespondResult, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, result)
	}
	_, err := fmt.Fprintln(w, result.Response.Plain)
	return err
}

// WriteStatus writes a status report.
func WriteStatus(w io.Writer, status models.Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, status)
	}
	fmt.Fprintf(w, "index_size:         %d   # prompts in the nearest neighbour index\n", status.IndexSize)
	fmt.Fprintf(w, "stored_prompts:     %d   # distinct prompts in the response table\n", status.StoredPrompts)
	fmt.Fprintf(w, "embedding_words:    %d\n", status.EmbeddingWords)
	fmt.Fprintf(w, "embedding_dims:     %d\n", status.EmbeddingDimensions)
	if status.DiskUsageBytes != nil {
		fmt.Fprintf(w, "disk_usage_bytes:   %d   # response table on disk\n", *status.DiskUsageBytes)
	}
	if c := status.Config; c != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "# configuration")
		fmt.Fprintf(w, "storage_backend:    %s\n", c.StorageBackend)
		if c.DatabasePath != "" {
			fmt.Fprintf(w, "database_path:      %s\n", c.DatabasePath)
		}
		if c.EmbeddingPath != "" {
			fmt.Fprintf(w, "embedding_path:     %s\n", c.EmbeddingPath)
		}
		fmt.Fprintf(w, "index:              m=%d m0=%d ef_construction=%d ef_search=%d\n",
			c.IndexM, c.IndexM0, c.EFConstruction, c.EFSearch)
	}
	return nil
}

// WriteImportSummaries writes the outcome of an import run.
func WriteImportSummaries(w io.Writer, summaries []models.ImportSummary, format OutputFormat) error {
	if format == OutputJSON {
		if summaries == nil {
			summaries = []models.ImportSummary{}
		}
		return writeJSON(w, summaries)
	}
	var inserted, skipped int
	for _, s := range summaries {
		if s.Unchanged {
			fmt.Fprintf(w, "unchanged  %s\n", utils.Truncate(s.Path, 100))
			continue
		}
		fmt.Fprintf(w, "imported   %s (%d pairs, %d learned, %d skipped)\n",
			utils.Truncate(s.Path, 100), s.Pairs, s.Inserted, s.Skipped)
		inserted += s.Inserted
		skipped += s.Skipped
	}
	fmt.Fprintf(w, "\n%d file(s), %d pair(s) learned, %d skipped (no known words)\n", len(summaries), inserted, skipped)
	return nil
}
