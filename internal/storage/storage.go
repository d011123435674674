// Package storage defines the persistence interface for documents and their embedded chunks.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hyperjump/docrag/internal/models"
)

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("not found")

// Error wraps an underlying persistence failure with the operation that failed.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// Storage persists documents and chunks. Documents are written and deleted whole.
type Storage interface {
	// AddDocument stores a document and all of its chunks atomically.
	AddDocument(ctx context.Context, doc *models.Document) error
	// GetDocument returns a document with its chunks; the error wraps ErrNotFound if absent.
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	// GetAllDocuments returns every document with its chunks.
	GetAllDocuments(ctx context.Context) ([]*models.Document, error)
	// ListDocuments returns summaries of documents created at or after since, newest first.
	// A zero since lists everything.
	ListDocuments(ctx context.Context, since time.Time) ([]*models.DocumentSummary, error)
	GetDocumentsBySource(ctx context.Context, source string) ([]*models.DocumentSummary, error)
	// ReplaceSource atomically removes every document stored under source and adds doc,
	// returning how many documents it replaced.
	ReplaceSource(ctx context.Context, source string, doc *models.Document) (int, error)
	// DeleteDocument removes a document and its chunks. Deleting a missing id is a no-op.
	DeleteDocument(ctx context.Context, id string) error

	GetChunksByDocumentID(ctx context.Context, docID string) ([]*models.DocumentChunk, error)
	// ScanAllChunks returns every chunk with its embedding, in ingestion order.
	ScanAllChunks(ctx context.Context) ([]*models.DocumentChunk, error)

	// Stats
	CountDocuments(ctx context.Context) (int64, error)
	CountChunks(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (*models.StoreStats, error)

	Close() error
}

// ValidateDocument checks the invariants a document must satisfy before it is stored.
func ValidateDocument(doc *models.Document) error {
	if doc == nil || doc.ID == "" {
		return errors.New("document id is required")
	}
	for i, ch := range doc.Chunks {
		switch {
		case ch == nil || ch.ID == "":
			return fmt.Errorf("chunk %d of %s has no id", i, doc.ID)
		case ch.DocumentID != doc.ID:
			return fmt.Errorf("chunk %s belongs to %q, not %q", ch.ID, ch.DocumentID, doc.ID)
		case ch.Metadata.Source != doc.Source:
			return fmt.Errorf("chunk %s source %q differs from document source %q", ch.ID, ch.Metadata.Source, doc.Source)
		case ch.Metadata.TotalChunks != len(doc.Chunks):
			return fmt.Errorf("chunk %s reports %d total chunks, document has %d", ch.ID, ch.Metadata.TotalChunks, len(doc.Chunks))
		case ch.Metadata.ChunkIndex != i:
			return fmt.Errorf("chunk %s has index %d at position %d", ch.ID, ch.Metadata.ChunkIndex, i)
		}
	}
	return nil
}
