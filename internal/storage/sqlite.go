package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/docrag/internal/models"
	"github.com/hyperjump/docrag/internal/vector"
)

// MemoryPath opens a private in-memory database, mainly for tests.
const MemoryPath = ":memory:"

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db   *sql.DB
	path string
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	inMemory := dbPath == MemoryPath
	if !inMemory {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, wrap("open", fmt.Errorf("failed to create database directory: %w", err))
			}
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, wrap("open", err)
	}
	// One connection serialises writers and keeps an in-memory database alive.
	db.SetMaxOpenConns(1)

	if !inMemory {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, wrap("open", fmt.Errorf("failed to enable WAL: %w", err))
		}
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, wrap("open", fmt.Errorf("failed to initialize schema: %w", err))
	}

	return &SQLiteStorage{db: db, path: dbPath}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		source TEXT NOT NULL,
		total_tokens INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_documents_source ON documents(source);
	CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(created_at);

	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		content TEXT NOT NULL,
		embedding BLOB NOT NULL,
		dimensions INTEGER NOT NULL,
		source TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		chunk_index INTEGER NOT NULL,
		total_chunks INTEGER NOT NULL,
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_document_id ON chunks(document_id, chunk_index);
	CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks(source);
	CREATE INDEX IF NOT EXISTS idx_chunks_timestamp ON chunks(timestamp);
	`
	_, err := db.Exec(schema)
	return err
}

// AddDocument inserts a document and its chunks in a single transaction.
// Re-adding an existing id fails; documents are never updated in place.
func (s *SQLiteStorage) AddDocument(ctx context.Context, doc *models.Document) error {
	if err := ValidateDocument(doc); err != nil {
		return wrap("add document", err)
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("add document", err)
	}
	defer tx.Rollback()

	if err := insertDocument(ctx, tx, doc); err != nil {
		return err
	}
	return wrap("add document", tx.Commit())
}

// ReplaceSource removes every document stored under source and adds doc in a single
// transaction. On failure the previous documents are left in place. It returns how
// many documents were replaced.
func (s *SQLiteStorage) ReplaceSource(ctx context.Context, source string, doc *models.Document) (int, error) {
	if err := ValidateDocument(doc); err != nil {
		return 0, wrap("replace source", err)
	}
	if doc.Source != source {
		return 0, wrap("replace source", fmt.Errorf("document source %q does not match %q", doc.Source, source))
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrap("replace source", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM chunks WHERE document_id IN (SELECT id FROM documents WHERE source = ?)`, source,
	); err != nil {
		return 0, wrap("replace source", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE source = ?`, source)
	if err != nil {
		return 0, wrap("replace source", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, wrap("replace source", err)
	}
	if err := insertDocument(ctx, tx, doc); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, wrap("replace source", err)
	}
	return int(removed), nil
}

func insertDocument(ctx context.Context, tx *sql.Tx, doc *models.Document) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO documents (id, title, source, total_tokens, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		doc.ID, doc.Title, doc.Source, doc.TotalTokens, doc.CreatedAt.UnixMilli(),
	); err != nil {
		return wrap("add document", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (id, document_id, content, embedding, dimensions, source, timestamp, chunk_index, total_chunks)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return wrap("add document", err)
	}
	defer stmt.Close()

	for _, ch := range doc.Chunks {
		if _, err := stmt.ExecContext(ctx,
			ch.ID, ch.DocumentID, ch.Content, vector.EncodeFloat32(ch.Embedding), len(ch.Embedding),
			ch.Metadata.Source, ch.Metadata.Timestamp, ch.Metadata.ChunkIndex, ch.Metadata.TotalChunks,
		); err != nil {
			return wrap("add chunk", err)
		}
	}
	return nil
}

// GetDocument returns a document by ID, with its chunks in index order.
func (s *SQLiteStorage) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, source, total_tokens, created_at FROM documents WHERE id = ?`, id,
	).Scan(&doc.ID, &doc.Title, &doc.Source, &doc.TotalTokens, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, wrap("get document", err)
	}
	doc.CreatedAt = time.UnixMilli(createdAt)

	chunks, err := s.GetChunksByDocumentID(ctx, id)
	if err != nil {
		return nil, err
	}
	doc.Chunks = chunks
	return &doc, nil
}

// GetAllDocuments returns every document with its chunks, oldest first.
func (s *SQLiteStorage) GetAllDocuments(ctx context.Context) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, source, total_tokens, created_at FROM documents ORDER BY created_at, id`)
	if err != nil {
		return nil, wrap("get all documents", err)
	}
	defer rows.Close()

	docs := []*models.Document{}
	byID := make(map[string]*models.Document)
	for rows.Next() {
		var doc models.Document
		var createdAt int64
		if err := rows.Scan(&doc.ID, &doc.Title, &doc.Source, &doc.TotalTokens, &createdAt); err != nil {
			return nil, wrap("get all documents", err)
		}
		doc.CreatedAt = time.UnixMilli(createdAt)
		doc.Chunks = []*models.DocumentChunk{}
		docs = append(docs, &doc)
		byID[doc.ID] = &doc
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("get all documents", err)
	}
	rows.Close()

	chunks, err := s.queryChunks(ctx, "get all documents",
		`SELECT `+chunkColumns+` FROM chunks ORDER BY document_id, chunk_index`)
	if err != nil {
		return nil, err
	}
	for _, ch := range chunks {
		if doc, ok := byID[ch.DocumentID]; ok {
			doc.Chunks = append(doc.Chunks, ch)
		}
	}
	return docs, nil
}

// ListDocuments returns document summaries with chunk counts, newest first.
func (s *SQLiteStorage) ListDocuments(ctx context.Context, since time.Time) ([]*models.DocumentSummary, error) {
	var sinceMs int64
	if !since.IsZero() {
		sinceMs = since.UnixMilli()
	}
	return s.querySummaries(ctx, "list documents",
		`SELECT d.id, d.title, d.source, d.total_tokens, d.created_at, COUNT(c.id)
		 FROM documents d LEFT JOIN chunks c ON c.document_id = d.id
		 WHERE d.created_at >= ?
		 GROUP BY d.id
		 ORDER BY d.created_at DESC, d.id`, sinceMs)
}

// GetDocumentsBySource returns summaries of the documents ingested from source.
func (s *SQLiteStorage) GetDocumentsBySource(ctx context.Context, source string) ([]*models.DocumentSummary, error) {
	return s.querySummaries(ctx, "get documents by source",
		`SELECT d.id, d.title, d.source, d.total_tokens, d.created_at, COUNT(c.id)
		 FROM documents d LEFT JOIN chunks c ON c.document_id = d.id
		 WHERE d.source = ?
		 GROUP BY d.id
		 ORDER BY d.created_at DESC, d.id`, source)
}

func (s *SQLiteStorage) querySummaries(ctx context.Context, op, query string, args ...any) ([]*models.DocumentSummary, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer rows.Close()

	out := []*models.DocumentSummary{}
	for rows.Next() {
		var sum models.DocumentSummary
		var createdAt int64
		if err := rows.Scan(&sum.ID, &sum.Title, &sum.Source, &sum.TotalTokens, &createdAt, &sum.ChunkCount); err != nil {
			return nil, wrap(op, err)
		}
		sum.CreatedAt = time.UnixMilli(createdAt)
		out = append(out, &sum)
	}
	return out, wrap(op, rows.Err())
}

// DeleteDocument removes a document and its chunks in one transaction.
func (s *SQLiteStorage) DeleteDocument(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("delete document", err)
	}
	defer tx.Rollback()

	// explicit, so the cascade does not depend on the foreign_keys pragma
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, id); err != nil {
		return wrap("delete document", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return wrap("delete document", err)
	}
	return wrap("delete document", tx.Commit())
}

const chunkColumns = `id, document_id, content, embedding, source, timestamp, chunk_index, total_chunks`

// GetChunksByDocumentID returns all chunks for a document ordered by chunk index.
func (s *SQLiteStorage) GetChunksByDocumentID(ctx context.Context, docID string) ([]*models.DocumentChunk, error) {
	return s.queryChunks(ctx, "get chunks",
		`SELECT `+chunkColumns+` FROM chunks WHERE document_id = ? ORDER BY chunk_index`, docID)
}

// ScanAllChunks returns every chunk, ordered by ingestion time then chunk index.
func (s *SQLiteStorage) ScanAllChunks(ctx context.Context) ([]*models.DocumentChunk, error) {
	return s.queryChunks(ctx, "scan chunks",
		`SELECT `+chunkColumns+` FROM chunks ORDER BY timestamp, document_id, chunk_index`)
}

func (s *SQLiteStorage) queryChunks(ctx context.Context, op, query string, args ...any) ([]*models.DocumentChunk, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer rows.Close()

	chunks := []*models.DocumentChunk{}
	for rows.Next() {
		var ch models.DocumentChunk
		var blob []byte
		if err := rows.Scan(&ch.ID, &ch.DocumentID, &ch.Content, &blob,
			&ch.Metadata.Source, &ch.Metadata.Timestamp, &ch.Metadata.ChunkIndex, &ch.Metadata.TotalChunks); err != nil {
			return nil, wrap(op, err)
		}
		if ch.Embedding, err = vector.DecodeFloat32(blob); err != nil {
			return nil, wrap(op, fmt.Errorf("chunk %s: %w", ch.ID, err))
		}
		chunks = append(chunks, &ch)
	}
	return chunks, wrap(op, rows.Err())
}

// CountDocuments returns the total number of documents.
func (s *SQLiteStorage) CountDocuments(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count)
	return count, wrap("count documents", err)
}

// CountChunks returns the total number of chunks.
func (s *SQLiteStorage) CountChunks(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count)
	return count, wrap("count chunks", err)
}

// Stats summarises the store. Disk usage is reported for file-backed databases only.
func (s *SQLiteStorage) Stats(ctx context.Context) (*models.StoreStats, error) {
	stats := &models.StoreStats{Dimensions: []int{}}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(total_tokens), 0) FROM documents`,
	).Scan(&stats.Documents, &stats.TotalTokens); err != nil {
		return nil, wrap("stats", err)
	}
	var err error
	if stats.Chunks, err = s.CountChunks(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT dimensions FROM chunks`)
	if err != nil {
		return nil, wrap("stats", err)
	}
	defer rows.Close()
	for rows.Next() {
		var d int
		if err := rows.Scan(&d); err != nil {
			return nil, wrap("stats", err)
		}
		stats.Dimensions = append(stats.Dimensions, d)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("stats", err)
	}
	sort.Ints(stats.Dimensions)

	if s.path != MemoryPath {
		// WAL mode keeps recent writes in side files until checkpoint.
		if n, err := DiskUsageBytes(s.path, s.path+"-wal", s.path+"-shm"); err == nil {
			stats.DiskUsageBytes = &n
		}
	}
	return stats, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
