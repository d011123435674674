package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/docrag/internal/embedding"
	"github.com/hyperjump/docrag/internal/extract"
	"github.com/hyperjump/docrag/internal/models"
	"github.com/hyperjump/docrag/internal/storage"
)

// ErrEmptyDocument is returned when a document yields no chunks after filtering.
var ErrEmptyDocument = errors.New("document has no indexable text")

const untitled = "untitled"

// Indexer turns raw text into embedded documents and persists them.
type Indexer struct {
	storage   storage.Storage
	embedder  embedding.Embedder
	chunker   *Chunker
	extractor *extract.Extractor
	logger    *zap.Logger
	now       func() time.Time

	syncMu    sync.Mutex
	syncLocks map[string]*sourceLock
}

type sourceLock struct {
	mu   sync.Mutex
	refs int
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for ingestion and deletion events.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// WithChunker replaces the default chunker.
func WithChunker(c *Chunker) IndexerOption {
	return func(idx *Indexer) { idx.chunker = c }
}

// NewIndexer creates an indexer. extractor may be nil, in which case only
// .txt and .md files are accepted.
func NewIndexer(
	store storage.Storage,
	embedder embedding.Embedder,
	extractor *extract.Extractor,
	opts ...IndexerOption,
) *Indexer {
	if extractor == nil {
		extractor = extract.NewExtractor()
	}
	idx := &Indexer{
		storage:   store,
		embedder:  embedder,
		chunker:   NewChunker(DefaultMaxChunkSize, DefaultChunkOverlap),
		extractor: extractor,
		logger:    zap.NewNop(),
		now:       time.Now,
		syncLocks: make(map[string]*sourceLock),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// ProcessDocument chunks and embeds content into a document without storing it.
// Any embedding failure aborts the whole document.
func (idx *Indexer) ProcessDocument(ctx context.Context, content, title, source, apiKey string) (*models.Document, error) {
	texts := idx.chunker.Chunk(content)
	if len(texts) == 0 {
		return nil, ErrEmptyDocument
	}
	results, err := idx.embedder.EmbedBatch(ctx, texts, apiKey)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(results) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d embeddings for %d chunks", len(results), len(texts))
	}

	now := idx.now()
	doc := &models.Document{
		ID:          newDocumentID(now),
		Title:       title,
		Source:      source,
		Chunks:      make([]*models.DocumentChunk, len(texts)),
		TotalTokens: embedding.TotalTokens(results),
		CreatedAt:   now,
	}
	for i, text := range texts {
		doc.Chunks[i] = &models.DocumentChunk{
			ID:         chunkID(doc.ID, i),
			DocumentID: doc.ID,
			Content:    text,
			Embedding:  results[i].Embedding,
			Metadata: models.ChunkMetadata{
				Source:      source,
				Timestamp:   now.UnixMilli(),
				ChunkIndex:  i,
				TotalChunks: len(texts),
			},
		}
	}
	return doc, nil
}

// IngestDocument processes input and stores the resulting document.
// A missing title or source defaults to the other.
func (idx *Indexer) IngestDocument(ctx context.Context, input *models.DocumentInput, apiKey string) (*models.Document, error) {
	title, source := input.Title, input.Source
	switch {
	case title == "" && source == "":
		title, source = untitled, untitled
	case title == "":
		title = source
	case source == "":
		source = title
	}

	idx.logger.Debug("ingesting document", zap.String("source", source))
	doc, err := idx.ProcessDocument(ctx, input.Content, title, source, apiKey)
	if err != nil {
		return nil, err
	}
	if err := idx.storage.AddDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to store document: %w", err)
	}
	idx.logger.Info("document ingested",
		zap.String("id", doc.ID),
		zap.String("source", doc.Source),
		zap.Int("chunks", len(doc.Chunks)),
		zap.Int("total_tokens", doc.TotalTokens))
	return doc, nil
}

// IngestUpload ingests an uploaded file's content. Files that are not plain text
// or markdown fail with *extract.UnsupportedFileTypeError.
func (idx *Indexer) IngestUpload(ctx context.Context, name string, content []byte, apiKey string) (*models.Document, error) {
	text, err := idx.extractor.ExtractBytes(content, name)
	if err != nil {
		return nil, err
	}
	return idx.IngestDocument(ctx, &models.DocumentInput{Content: text, Title: name, Source: name}, apiKey)
}

// IngestFile ingests a file from disk. The source is the file's absolute path.
func (idx *Indexer) IngestFile(ctx context.Context, path, apiKey string) (*models.Document, error) {
	return idx.IngestFileWithTitle(ctx, path, "", apiKey)
}

// IngestFileWithTitle is IngestFile with an explicit title; "" uses the file name.
func (idx *Indexer) IngestFileWithTitle(ctx context.Context, path, title, apiKey string) (*models.Document, error) {
	absPath, err := regularFile(path)
	if err != nil {
		return nil, err
	}
	text, err := idx.extractor.Extract(absPath)
	if err != nil {
		return nil, err
	}
	if title == "" {
		title = filepath.Base(absPath)
	}
	return idx.IngestDocument(ctx, &models.DocumentInput{
		Content: text,
		Title:   title,
		Source:  absPath,
	}, apiKey)
}

// SyncFile makes the store reflect the file at path: documents previously ingested
// from it are replaced by a fresh one. A file not modified since its newest stored
// document is skipped. The new document is embedded before anything is removed, and
// the swap happens in one transaction, so a failure leaves the previous version
// searchable. Syncs of the same path run one at a time.
func (idx *Indexer) SyncFile(ctx context.Context, path, apiKey string) error {
	absPath, err := regularFile(path)
	if err != nil {
		return err
	}
	unlock := idx.lockSource(absPath)
	defer unlock()

	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("stat file: %w", err)
	}
	existing, err := idx.storage.GetDocumentsBySource(ctx, absPath)
	if err != nil {
		return err
	}
	if len(existing) > 0 && !info.ModTime().After(existing[0].CreatedAt) {
		idx.logger.Debug("skipping unchanged file", zap.String("path", absPath))
		return nil
	}

	text, err := idx.extractor.Extract(absPath)
	if err != nil {
		return err
	}
	doc, err := idx.ProcessDocument(ctx, text, filepath.Base(absPath), absPath, apiKey)
	if errors.Is(err, ErrEmptyDocument) {
		_, err = idx.DeleteBySource(ctx, absPath)
		return err
	}
	if err != nil {
		return err
	}
	replaced, err := idx.storage.ReplaceSource(ctx, absPath, doc)
	if err != nil {
		return fmt.Errorf("failed to store document: %w", err)
	}
	idx.logger.Info("file synced",
		zap.String("path", absPath),
		zap.String("id", doc.ID),
		zap.Int("replaced", replaced),
		zap.Int("chunks", len(doc.Chunks)))
	return nil
}

// lockSource serialises work on one source and returns the matching unlock.
func (idx *Indexer) lockSource(source string) func() {
	idx.syncMu.Lock()
	l, ok := idx.syncLocks[source]
	if !ok {
		l = &sourceLock{}
		idx.syncLocks[source] = l
	}
	l.refs++
	idx.syncMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		idx.syncMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(idx.syncLocks, source)
		}
		idx.syncMu.Unlock()
	}
}

// DeleteDocument removes a document and its chunks. Unknown ids are ignored.
func (idx *Indexer) DeleteDocument(ctx context.Context, id string) error {
	if err := idx.storage.DeleteDocument(ctx, id); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	idx.logger.Debug("document deleted", zap.String("id", id))
	return nil
}

// DeleteBySource removes every document ingested from source and returns how many were removed.
func (idx *Indexer) DeleteBySource(ctx context.Context, source string) (int, error) {
	docs, err := idx.storage.GetDocumentsBySource(ctx, source)
	if err != nil {
		return 0, err
	}
	for _, d := range docs {
		if err := idx.DeleteDocument(ctx, d.ID); err != nil {
			return 0, err
		}
	}
	return len(docs), nil
}

// ListDocuments returns summaries of stored documents created at or after since, newest first.
func (idx *Indexer) ListDocuments(ctx context.Context, since time.Time) ([]*models.DocumentSummary, error) {
	return idx.storage.ListDocuments(ctx, since)
}

// GetDocument returns a stored document with its chunks.
func (idx *Indexer) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	return idx.storage.GetDocument(ctx, id)
}

// newDocumentID returns "doc-<unix-ms>-<9 random chars>".
func newDocumentID(now time.Time) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("doc-%d-%s", now.UnixMilli(), random[:9])
}

func chunkID(docID string, index int) string {
	return fmt.Sprintf("%s-chunk-%d", docID, index)
}

func regularFile(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("not a regular file: %s", absPath)
	}
	return absPath, nil
}
