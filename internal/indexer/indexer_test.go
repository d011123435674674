package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperjump/docrag/internal/embedding"
	"github.com/hyperjump/docrag/internal/extract"
	"github.com/hyperjump/docrag/internal/models"
	"github.com/hyperjump/docrag/internal/storage"
)

const testKey = "sk-test"

// longText yields several chunks with a small chunker.
var longText = strings.Repeat("Vectors capture the meaning of text in many dimensions. ", 12)

func testIndexer(t *testing.T, embedder embedding.Embedder) (*Indexer, storage.Storage) {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "db.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if embedder == nil {
		embedder = embedding.NewMockEmbedder(4)
	}
	return NewIndexer(store, embedder, nil, WithChunker(NewChunker(30, 8))), store
}

// failingEmbedder fails on the given EmbedBatch call, counting from 1.
type failingEmbedder struct {
	*embedding.MockEmbedder
	failOn int
	calls  int
}

func (f *failingEmbedder) EmbedBatch(ctx context.Context, texts []string, apiKey string) ([]*embedding.Result, error) {
	f.calls++
	if f.calls == f.failOn {
		return nil, &embedding.ProviderError{StatusCode: 500, Message: "boom"}
	}
	return f.MockEmbedder.EmbedBatch(ctx, texts, apiKey)
}

// slowEmbedder delays every EmbedBatch call and counts them.
type slowEmbedder struct {
	*embedding.MockEmbedder
	delay   time.Duration
	batches atomic.Int32
}

func (s *slowEmbedder) EmbedBatch(ctx context.Context, texts []string, apiKey string) ([]*embedding.Result, error) {
	s.batches.Add(1)
	time.Sleep(s.delay)
	return s.MockEmbedder.EmbedBatch(ctx, texts, apiKey)
}

func TestProcessDocument(t *testing.T) {
	idx, store := testIndexer(t, nil)
	fixed := time.UnixMilli(1_700_000_000_123)
	idx.now = func() time.Time { return fixed }

	doc, err := idx.ProcessDocument(context.Background(), longText, "Title", "notes.txt", testKey)
	if err != nil {
		t.Fatal(err)
	}
	if !regexp.MustCompile(`^doc-1700000000123-[0-9a-f]{9}$`).MatchString(doc.ID) {
		t.Errorf("unexpected document id %q", doc.ID)
	}
	if len(doc.Chunks) < 2 {
		t.Fatalf("expected several chunks, got %d", len(doc.Chunks))
	}
	for i, ch := range doc.Chunks {
		if ch.ID != chunkID(doc.ID, i) || ch.DocumentID != doc.ID {
			t.Errorf("chunk %d ids: %s / %s", i, ch.ID, ch.DocumentID)
		}
		if ch.Metadata.ChunkIndex != i || ch.Metadata.TotalChunks != len(doc.Chunks) {
			t.Errorf("chunk %d metadata %+v", i, ch.Metadata)
		}
		if ch.Metadata.Source != "notes.txt" || ch.Metadata.Timestamp != fixed.UnixMilli() {
			t.Errorf("chunk %d provenance %+v", i, ch.Metadata)
		}
		if len(ch.Embedding) != 4 {
			t.Errorf("chunk %d embedding length %d", i, len(ch.Embedding))
		}
	}
	if doc.TotalTokens <= 0 {
		t.Errorf("TotalTokens = %d", doc.TotalTokens)
	}
	if n, _ := store.CountDocuments(context.Background()); n != 0 {
		t.Error("ProcessDocument must not persist anything")
	}
}

func TestProcessDocument_Empty(t *testing.T) {
	mock := embedding.NewMockEmbedder(4)
	idx, _ := testIndexer(t, mock)
	_, err := idx.ProcessDocument(context.Background(), "A. B. C. D.", "t", "s", testKey)
	if !errors.Is(err, ErrEmptyDocument) {
		t.Fatalf("expected ErrEmptyDocument, got %v", err)
	}
	if mock.Calls() != 0 {
		t.Error("no embedding request should be made for an empty document")
	}
}

func TestIngestDocument(t *testing.T) {
	idx, store := testIndexer(t, nil)
	ctx := context.Background()

	doc, err := idx.IngestDocument(ctx, &models.DocumentInput{Content: longText, Title: "guide.md"}, testKey)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Source != "guide.md" {
		t.Errorf("source should default to the title, got %q", doc.Source)
	}
	got, err := store.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Chunks) != len(doc.Chunks) || got.TotalTokens != doc.TotalTokens {
		t.Errorf("stored %d chunks / %d tokens, processed %d / %d",
			len(got.Chunks), got.TotalTokens, len(doc.Chunks), doc.TotalTokens)
	}

	list, err := idx.ListDocuments(ctx, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ChunkCount != len(doc.Chunks) {
		t.Errorf("listing = %+v", list)
	}
}

func TestIngestDocument_EmbeddingFailureStoresNothing(t *testing.T) {
	fe := &failingEmbedder{MockEmbedder: embedding.NewMockEmbedder(4), failOn: 2}
	idx, store := testIndexer(t, fe)
	ctx := context.Background()

	first, err := idx.IngestDocument(ctx, &models.DocumentInput{Content: longText, Title: "a"}, testKey)
	if err != nil {
		t.Fatal(err)
	}
	before, _ := store.ScanAllChunks(ctx)

	_, err = idx.IngestDocument(ctx, &models.DocumentInput{Content: longText, Title: "b"}, testKey)
	var pe *embedding.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError, got %v", err)
	}

	docs, _ := store.GetAllDocuments(ctx)
	after, _ := store.ScanAllChunks(ctx)
	if len(docs) != 1 || docs[0].ID != first.ID || len(after) != len(before) {
		t.Errorf("store changed after failed ingestion: %d docs, %d -> %d chunks", len(docs), len(before), len(after))
	}
}

func TestIngestDocument_MissingKey(t *testing.T) {
	idx, store := testIndexer(t, nil)
	_, err := idx.IngestDocument(context.Background(), &models.DocumentInput{Content: longText}, "")
	if !errors.Is(err, embedding.ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication, got %v", err)
	}
	if n, _ := store.CountDocuments(context.Background()); n != 0 {
		t.Error("nothing should be stored")
	}
}

func TestIngestUpload(t *testing.T) {
	idx, _ := testIndexer(t, nil)
	ctx := context.Background()

	doc, err := idx.IngestUpload(ctx, "notes.md", []byte(longText), testKey)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Title != "notes.md" || doc.Source != "notes.md" {
		t.Errorf("got title %q source %q", doc.Title, doc.Source)
	}

	_, err = idx.IngestUpload(ctx, "scan.pdf", []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n"), testKey)
	var ufe *extract.UnsupportedFileTypeError
	if !errors.As(err, &ufe) {
		t.Errorf("expected UnsupportedFileTypeError, got %v", err)
	}
}

func TestDeleteDocument(t *testing.T) {
	idx, store := testIndexer(t, nil)
	ctx := context.Background()
	a, _ := idx.IngestDocument(ctx, &models.DocumentInput{Content: longText, Title: "a"}, testKey)
	b, _ := idx.IngestDocument(ctx, &models.DocumentInput{Content: longText, Title: "b"}, testKey)

	if err := idx.DeleteDocument(ctx, a.ID); err != nil {
		t.Fatal(err)
	}
	chunks, _ := store.ScanAllChunks(ctx)
	for _, ch := range chunks {
		if ch.DocumentID == a.ID {
			t.Fatalf("chunk %s survived deletion", ch.ID)
		}
	}
	if len(chunks) != len(b.Chunks) {
		t.Errorf("expected %d chunks left, got %d", len(b.Chunks), len(chunks))
	}

	before, _ := store.GetAllDocuments(ctx)
	if err := idx.DeleteDocument(ctx, "doc-does-not-exist"); err != nil {
		t.Fatalf("deleting an unknown id should succeed: %v", err)
	}
	after, _ := store.GetAllDocuments(ctx)
	if len(before) != 1 || len(after) != 1 || after[0].ID != b.ID {
		t.Errorf("unexpected documents after no-op delete: %v", after)
	}
}

func TestIngestFileAndSync(t *testing.T) {
	idx, store := testIndexer(t, nil)
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "inbox.md")
	if err := os.WriteFile(path, []byte(longText), 0644); err != nil {
		t.Fatal(err)
	}
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(path, past, past); err != nil {
		t.Fatal(err)
	}

	doc, err := idx.IngestFile(ctx, path, testKey)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Source != path || doc.Title != "inbox.md" {
		t.Errorf("got title %q source %q", doc.Title, doc.Source)
	}

	// unchanged file is skipped
	if err := idx.SyncFile(ctx, path, testKey); err != nil {
		t.Fatal(err)
	}
	docs, _ := store.GetDocumentsBySource(ctx, path)
	if len(docs) != 1 || docs[0].ID != doc.ID {
		t.Fatalf("unchanged sync replaced the document: %+v", docs)
	}

	// a newer file replaces the previous document
	if err := os.WriteFile(path, []byte(longText+" A brand new closing sentence lives here."), 0644); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}
	if err := idx.SyncFile(ctx, path, testKey); err != nil {
		t.Fatal(err)
	}
	docs, _ = store.GetDocumentsBySource(ctx, path)
	if len(docs) != 1 || docs[0].ID == doc.ID {
		t.Fatalf("expected one replacement document, got %+v", docs)
	}

	n, err := idx.DeleteBySource(ctx, path)
	if err != nil || n != 1 {
		t.Errorf("DeleteBySource = %d, %v", n, err)
	}
	if count, _ := store.CountChunks(ctx); count != 0 {
		t.Errorf("%d chunks left", count)
	}

	titled, err := idx.IngestFileWithTitle(ctx, path, "Inbox", testKey)
	if err != nil {
		t.Fatal(err)
	}
	if titled.Title != "Inbox" || titled.Source != path {
		t.Errorf("got title %q source %q", titled.Title, titled.Source)
	}

	if _, err := idx.IngestFile(ctx, dir, testKey); err == nil {
		t.Error("ingesting a directory should fail")
	}
}

func TestNewDocumentID(t *testing.T) {
	now := time.UnixMilli(42)
	a, b := newDocumentID(now), newDocumentID(now)
	if a == b {
		t.Error("document ids should be unique")
	}
	if !strings.HasPrefix(a, "doc-42-") || len(a) != len("doc-42-")+9 {
		t.Errorf("id = %q", a)
	}
	if chunkID(a, 3) != a+"-chunk-3" {
		t.Errorf("chunk id = %q", chunkID(a, 3))
	}
}

func TestSyncFile_OverlappingSyncsKeepOneDocument(t *testing.T) {
	slow := &slowEmbedder{MockEmbedder: embedding.NewMockEmbedder(4), delay: 200 * time.Millisecond}
	idx, store := testIndexer(t, slow)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "inbox.md")
	if err := os.WriteFile(path, []byte(longText), 0644); err != nil {
		t.Fatal(err)
	}
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(path, past, past); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = idx.SyncFile(ctx, path, testKey)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}

	docs, err := store.GetDocumentsBySource(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 {
		t.Errorf("expected one document for the source, got %d", len(docs))
	}
	if n := slow.batches.Load(); n != 1 {
		t.Errorf("the second sync should see the fresh document and skip, embedded %d times", n)
	}
	if len(idx.syncLocks) != 0 {
		t.Errorf("%d source locks leaked", len(idx.syncLocks))
	}
}
