// Package models defines core data structures for documents, chunks, and retrieval results.
package models

import "time"

// ChunkMetadata is the provenance attached to every stored chunk.
type ChunkMetadata struct {
	Source      string `json:"source"`
	Timestamp   int64  `json:"timestamp"` // epoch milliseconds
	ChunkIndex  int    `json:"chunk_index"`
	TotalChunks int    `json:"total_chunks"`
}

// DocumentChunk is an embedded span of a document, the unit of retrieval.
// Chunks are immutable once stored and are removed only with their document.
type DocumentChunk struct {
	ID         string        `json:"id"`
	DocumentID string        `json:"document_id"`
	Content    string        `json:"content"`
	Embedding  []float32     `json:"-"`
	Metadata   ChunkMetadata `json:"metadata"`
}

// Document is a processed document together with its ordered chunks.
// Documents are write-once: they are created and deleted whole.
type Document struct {
	ID     string           `json:"id"`
	Title  string           `json:"title"`
	Source string           `json:"source"`
	Chunks []*DocumentChunk `json:"chunks,omitempty"`
	// TotalTokens is the sum of the provider-reported totals of each embedding
	// request made for the document. Every request is counted once.
	TotalTokens int       `json:"total_tokens"`
	CreatedAt   time.Time `json:"created_at"`
}

// DocumentInput is the input for ingesting raw text.
type DocumentInput struct {
	Content string `json:"content"`
	Title   string `json:"title,omitempty"`
	Source  string `json:"source,omitempty"`
}

// DocumentSummary is the listing view of a stored document.
type DocumentSummary struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Source      string    `json:"source"`
	ChunkCount  int       `json:"chunk_count"`
	TotalTokens int       `json:"total_tokens"`
	CreatedAt   time.Time `json:"created_at"`
}

// StoreStats summarises the contents of the vector store.
type StoreStats struct {
	Documents   int64 `json:"documents"`
	Chunks      int64 `json:"chunks"`
	TotalTokens int64 `json:"total_tokens"`
	// Dimensions lists every distinct embedding dimensionality in the store.
	// More than one entry means the corpus was embedded with different models.
	Dimensions     []int  `json:"dimensions"`
	DiskUsageBytes *int64 `json:"disk_usage_bytes,omitempty"`
}
