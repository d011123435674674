// Package cli provides output helpers for the docrag command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/docrag/internal/models"
	"github.com/hyperjump/docrag/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const previewLength = 200

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case OutputText, OutputJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (use text or json)", s)
	}
}

// WriteContext writes a context retrieval result to w in the given format.
func WriteContext(w io.Writer, resp *models.ContextResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, resp)
	}
	retrieved := 0
	if resp.RAGContext != nil {
		retrieved = len(resp.RetrievedChunks)
	}
	fmt.Fprintf(w, "\nRetrieved %d chunks in %dms\n\n", retrieved, resp.QueryTime)
	if retrieved == 0 {
		fmt.Fprintln(w, "No relevant context found.")
		return nil
	}
	for i, r := range resp.RetrievedChunks {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "%d. Similarity: %.4f | Source: %s\n", i+1, r.Similarity, r.Chunk.Metadata.Source)
		fmt.Fprintf(w, "Chunk: %s (%d/%d)\n", r.Chunk.ID, r.Chunk.Metadata.ChunkIndex+1, r.Chunk.Metadata.TotalChunks)
		fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(r.Chunk.Content, previewLength))
	}
	fmt.Fprintf(w, "═════════════════════════════════════════════════════════\n")
	fmt.Fprintln(w, resp.Prompt)
	if resp.SourcesAnnotation != "" {
		fmt.Fprintln(w, resp.SourcesAnnotation)
	}
	return nil
}

// WriteDocuments writes document summaries to w in the given format.
func WriteDocuments(w io.Writer, docs []*models.DocumentSummary, format OutputFormat) error {
	if format == OutputJSON {
		if docs == nil {
			docs = []*models.DocumentSummary{}
		}
		return writeJSON(w, docs)
	}
	if len(docs) == 0 {
		fmt.Fprintln(w, "No documents.")
		return nil
	}
	for _, d := range docs {
		fmt.Fprintf(w, "%s  %s  %d chunks  %d tokens  %s\n",
			d.ID, d.CreatedAt.Format("2006-01-02 15:04:05"), d.ChunkCount, d.TotalTokens, d.Title)
		if d.Source != d.Title {
			fmt.Fprintf(w, "    source: %s\n", d.Source)
		}
	}
	return nil
}

// WriteStatus writes store statistics to w in the given format.
func WriteStatus(w io.Writer, stats *models.StoreStats, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, stats)
	}
	fmt.Fprintf(w, "Documents:    %d\n", stats.Documents)
	fmt.Fprintf(w, "Chunks:       %d\n", stats.Chunks)
	fmt.Fprintf(w, "Total tokens: %d\n", stats.TotalTokens)
	dims := make([]string, len(stats.Dimensions))
	for i, d := range stats.Dimensions {
		dims[i] = fmt.Sprint(d)
	}
	if len(dims) == 0 {
		dims = []string{"-"}
	}
	fmt.Fprintf(w, "Dimensions:   %s\n", strings.Join(dims, ", "))
	if stats.DiskUsageBytes != nil {
		fmt.Fprintf(w, "Disk usage:   %s\n", FormatBytes(*stats.DiskUsageBytes))
	}
	return nil
}

// FormatBytes renders n bytes with a binary unit suffix.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
