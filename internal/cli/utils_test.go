package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/docrag/internal/models"
)

func testContextResponse() *models.ContextResponse {
	chunk := &models.DocumentChunk{
		ID:         "doc-1-chunk-0",
		DocumentID: "doc-1",
		Content:    strings.Repeat("goroutines ", 40),
		Metadata:   models.ChunkMetadata{Source: "go.md", ChunkIndex: 0, TotalChunks: 2},
	}
	return &models.ContextResponse{
		Query: "what are goroutines?",
		RAGContext: &models.RAGContext{
			RetrievedChunks: []models.SimilarityResult{{Chunk: chunk, Similarity: 0.91}},
			ContextText:     "[Source: go.md]\n" + chunk.Content + "\n\n",
			Sources:         []string{"go.md"},
		},
		Prompt:            "prompt body",
		SourcesAnnotation: "\n\n---\n**Sources:** go.md",
		QueryTime:         12,
	}
}

func TestWriteContext_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteContext(&buf, testContextResponse(), OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded models.ContextResponse
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	if decoded.Query != "what are goroutines?" || len(decoded.Sources) != 1 || decoded.QueryTime != 12 {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestWriteContext_Text(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteContext(&buf, testContextResponse(), OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"Retrieved 1 chunks in 12ms", "Similarity: 0.9100", "Source: go.md", "(1/2)", "prompt body", "**Sources:** go.md", "..."} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	empty := &models.ContextResponse{Query: "q", RAGContext: &models.RAGContext{}}
	_ = WriteContext(&buf, empty, OutputText)
	if !strings.Contains(buf.String(), "No relevant context found.") {
		t.Errorf("empty output = %q", buf.String())
	}
}

func TestWriteDocuments(t *testing.T) {
	docs := []*models.DocumentSummary{
		{ID: "doc-2", Title: "notes.md", Source: "/inbox/notes.md", ChunkCount: 3, TotalTokens: 120, CreatedAt: time.Now()},
		{ID: "doc-1", Title: "faq", Source: "faq", ChunkCount: 1, TotalTokens: 30, CreatedAt: time.Now()},
	}
	var buf bytes.Buffer
	if err := WriteDocuments(&buf, docs, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "doc-2") || !strings.Contains(out, "source: /inbox/notes.md") {
		t.Errorf("output:\n%s", out)
	}
	if strings.Count(out, "source:") != 1 {
		t.Errorf("source line should only appear when it differs from the title:\n%s", out)
	}

	buf.Reset()
	if err := WriteDocuments(&buf, nil, OutputJSON); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(buf.String()) != "[]" {
		t.Errorf("empty JSON list = %q", buf.String())
	}
}

func TestWriteStatus(t *testing.T) {
	disk := int64(3 * 1024 * 1024)
	stats := &models.StoreStats{Documents: 2, Chunks: 5, TotalTokens: 400, Dimensions: []int{384}, DiskUsageBytes: &disk}
	var buf bytes.Buffer
	if err := WriteStatus(&buf, stats, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"Documents:    2", "Chunks:       5", "Dimensions:   384", "3.0 MiB"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestParseOutputFormat(t *testing.T) {
	if f, err := ParseOutputFormat("JSON"); err != nil || f != OutputJSON {
		t.Errorf("got %q, %v", f, err)
	}
	if _, err := ParseOutputFormat("yaml"); err == nil {
		t.Error("expected error for yaml")
	}
}

func TestFormatBytes(t *testing.T) {
	tests := map[int64]string{
		512:             "512 B",
		2048:            "2.0 KiB",
		5 * 1024 * 1024: "5.0 MiB",
	}
	for in, want := range tests {
		if got := FormatBytes(in); got != want {
			t.Errorf("FormatBytes(%d) = %q, want %q", in, got, want)
		}
	}
}
