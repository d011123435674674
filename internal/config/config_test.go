package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/docrag/internal/models"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
debug: true
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "./data/test.db"
embedding:
  model: text-embedding-3-large
  timeout: 5s
  max_retries: 0
  retry_base_delay: 100ms
  requests_per_second: 2.5
chunking:
  max_chunk_size: 400
  overlap: 0
rag:
  top_k: 8
  min_similarity: 0
  include_metadata: false
watch:
  directories: ["./inbox"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	dir := filepath.Dir(path)
	if !cfg.Debug || cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected top-level config: %+v", cfg)
	}
	if cfg.Storage.DatabasePath != filepath.Join(dir, "data", "test.db") {
		t.Errorf("database_path = %s", cfg.Storage.DatabasePath)
	}
	e := cfg.Embedding
	if e.Model != "text-embedding-3-large" || e.Timeout != 5*time.Second || e.RetryBaseDelay != 100*time.Millisecond {
		t.Errorf("embedding = %+v", e)
	}
	if *e.MaxRetries != 0 || e.RequestsPerSecond != 2.5 {
		t.Errorf("explicit zero retries or rate lost: %+v", e)
	}
	if cfg.Chunking.MaxChunkSize != 400 || *cfg.Chunking.Overlap != 0 {
		t.Errorf("chunking = %+v", cfg.Chunking)
	}
	rag := cfg.RAG.Defaults()
	want := models.RAGConfig{TopK: 8, MinSimilarity: 0, MaxContextLength: models.DefaultMaxContextLength, IncludeMetadata: false}
	if rag != want {
		t.Errorf("rag defaults = %+v, want %+v", rag, want)
	}
	if len(cfg.Watch.Directories) != 1 || cfg.Watch.Directories[0] != filepath.Join(dir, "inbox") {
		t.Errorf("watch directories = %v", cfg.Watch.Directories)
	}
	if !cfg.Watch.RecursiveOrDefault() {
		t.Error("recursive should default to true")
	}
}

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	ApplyDefaults(&cfg)
	if cfg.Server.Host != "localhost" || cfg.Server.Port != 8080 {
		t.Errorf("server = %+v", cfg.Server)
	}
	e := cfg.Embedding
	if e.Provider != ProviderOpenAI || e.BaseURL != "https://api.openai.com/v1" || e.Model != "text-embedding-3-small" {
		t.Errorf("embedding endpoint = %+v", e)
	}
	if e.APIKeyEnv != "OPENAI_API_KEY" || e.Timeout != 30*time.Second || e.BatchSize != 100 {
		t.Errorf("embedding transport = %+v", e)
	}
	if *e.MaxRetries != 3 || e.RetryBaseDelay != 250*time.Millisecond || e.RequestsPerSecond != 0 || e.CacheSize != 1000 {
		t.Errorf("embedding retry/cache = %+v", e)
	}
	if cfg.Chunking.MaxChunkSize != 800 || *cfg.Chunking.Overlap != 100 {
		t.Errorf("chunking = %+v", cfg.Chunking)
	}
	if cfg.RAG.Defaults() != models.DefaultRAGConfig() {
		t.Errorf("rag = %+v", cfg.RAG.Defaults())
	}
	if strings.Join(cfg.Watch.Extensions, ",") != ".txt,.md" {
		t.Errorf("extensions = %v", cfg.Watch.Extensions)
	}
	if cfg.Watch.Recursive != nil {
		t.Error("recursive stays unset without directories")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"bad yaml":         "server: [",
		"unknown provider": "embedding:\n  provider: carrier-pigeon\n",
		"negative top_k":   "rag:\n  top_k: -1\n",
		"similarity > 1":   "rag:\n  min_similarity: 1.5\n",
		"negative overlap": "chunking:\n  overlap: -3\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, content)); err == nil {
				t.Error("expected error")
			}
		})
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_MemoryDatabaseNotExpanded(t *testing.T) {
	cfg, err := Load(writeConfig(t, "storage:\n  database_path: \":memory:\"\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.DatabasePath != MemoryDatabase {
		t.Errorf("database_path = %s", cfg.Storage.DatabasePath)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	tests := []struct {
		in, want string
	}{
		{"/abs/db.sqlite", "/abs/db.sqlite"},
		{"./db.sqlite", "/etc/docrag/db.sqlite"},
		{"~/data/db.sqlite", filepath.Join(home, "data", "db.sqlite")},
		{".docrag/docrag.db", filepath.Join(home, ".docrag", "docrag.db")},
	}
	for _, tt := range tests {
		if got := expandPath(tt.in, "/etc/docrag"); got != tt.want {
			t.Errorf("expandPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEmbeddingConfig_APIKey(t *testing.T) {
	t.Setenv("DOCRAG_TEST_KEY", "sk-from-env")
	e := EmbeddingConfig{APIKeyEnv: "DOCRAG_TEST_KEY"}
	if e.APIKey() != "sk-from-env" {
		t.Errorf("APIKey = %q", e.APIKey())
	}
	if (&EmbeddingConfig{}).APIKey() != "" {
		t.Error("no env var name means no key")
	}
}

func TestSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	cfg := Default()
	cfg.Server.Port = 9191
	cfg.Watch.Directories = []string{"/tmp/inbox"}
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Port != 9191 || loaded.Embedding.Timeout != 30*time.Second {
		t.Errorf("round trip lost values: %+v", loaded)
	}
	if len(loaded.Watch.Directories) != 1 || loaded.Watch.Directories[0] != "/tmp/inbox" {
		t.Errorf("watch directories = %v", loaded.Watch.Directories)
	}
	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "sk-") {
		t.Error("saved config must not contain an API key")
	}
}
