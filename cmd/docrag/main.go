// Package main is the docrag CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/docrag/internal/cli"
	"github.com/hyperjump/docrag/internal/config"
	"github.com/hyperjump/docrag/internal/models"
	"github.com/hyperjump/docrag/internal/rag"
	"github.com/hyperjump/docrag/internal/server"
	"github.com/hyperjump/docrag/internal/watcher"
	"github.com/hyperjump/docrag/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/docrag/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory; if neither exists the built-in defaults are used.
// Returns the config and the path that was actually loaded ("" for built-in defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
			return config.Default(), "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "ingest":
		runIngest()
	case "list":
		runList()
	case "delete":
		runDelete()
	case "context":
		runContext()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("docrag version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// setup loads config and creates the logger and components shared by every command.
func setup(configPath string, debugFlag bool) (*config.Config, *zap.Logger, *Components) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || debugFlag
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debugMode))

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	return cfg, logger, components
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, logger, components := setup(*configPath, *debug)
	defer logger.Sync()
	defer components.Close()

	apiKey := resolveAPIKey("", &cfg.Embedding)
	opts := []server.Option{server.WithDefaultAPIKey(apiKey)}

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if len(cfg.Watch.Directories) > 0 {
		if apiKey == "" {
			logger.Fatal("watch directories need an API key",
				zap.String("api_key_env", cfg.Embedding.APIKeyEnv))
		}
		watchSvc := newInboxWatcher(cfg, components, apiKey, logger)
		if err := watchSvc.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		defer watchSvc.Stop()
		go watchSvc.SyncExisting()
		opts = append(opts, server.WithWatcher(watchSvc))
	}

	srv := server.NewServer(
		components.Indexer,
		components.Assembler,
		components.Storage,
		&cfg.Server,
		cfg.RAG.Defaults(),
		logger,
		opts...,
	)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

// newInboxWatcher keeps the store in sync with the watched directories: changed files
// replace their previous document, removed files delete it.
func newInboxWatcher(cfg *config.Config, c *Components, apiKey string, logger *zap.Logger) *watcher.Watcher {
	return watcher.NewWatcher(
		cfg.Watch.Directories,
		cfg.Watch.Extensions,
		cfg.Watch.RecursiveOrDefault(),
		func(path string) {
			if err := c.Indexer.SyncFile(context.Background(), path, apiKey); err != nil {
				logger.Warn("watch sync file failed", zap.String("path", path), zap.Error(err))
			}
		},
		func(path string) {
			if _, err := c.Indexer.DeleteBySource(context.Background(), path); err != nil {
				logger.Warn("watch delete by source failed", zap.String("path", path), zap.Error(err))
			}
		},
		watcher.WithLogger(logger),
	)
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	title := fs.String("title", "", "document title (single file only; default: file name)")
	apiKeyFlag := fs.String("api-key", "", "embedding provider API key (default: from api_key_env)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(reorderArgs(os.Args[2:]))

	if fs.NArg() < 1 {
		fmt.Println("Usage: docrag ingest [flags] <file>...")
		os.Exit(1)
	}
	if *title != "" && fs.NArg() > 1 {
		fmt.Println("--title can only be used with a single file")
		os.Exit(1)
	}
	format := mustOutputFormat(*outputFormat)

	cfg, logger, components := setup(*configPath, false)
	defer logger.Sync()
	defer components.Close()
	apiKey := resolveAPIKey(*apiKeyFlag, &cfg.Embedding)

	var ingested []*models.DocumentSummary
	failed := false
	for _, path := range fs.Args() {
		doc, err := components.Indexer.IngestFileWithTitle(context.Background(), path, *title, apiKey)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Ingestion of %s failed: %v\n", path, err)
			failed = true
			continue
		}
		ingested = append(ingested, &models.DocumentSummary{
			ID:          doc.ID,
			Title:       doc.Title,
			Source:      doc.Source,
			ChunkCount:  len(doc.Chunks),
			TotalTokens: doc.TotalTokens,
			CreatedAt:   doc.CreatedAt,
		})
	}
	if len(ingested) > 0 {
		_ = cli.WriteDocuments(os.Stdout, ingested, format)
	}
	if failed {
		os.Exit(1)
	}
}

func runList() {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	sinceFlag := fs.String("since", "", "only documents created at or after this RFC 3339 time")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format := mustOutputFormat(*outputFormat)
	var since time.Time
	if *sinceFlag != "" {
		t, err := time.Parse(time.RFC3339, *sinceFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid --since: %v\n", err)
			os.Exit(1)
		}
		since = t
	}

	_, logger, components := setup(*configPath, false)
	defer logger.Sync()
	defer components.Close()

	docs, err := components.Indexer.ListDocuments(context.Background(), since)
	if err != nil {
		fmt.Fprintf(os.Stderr, "List failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteDocuments(os.Stdout, docs, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	source := fs.String("source", "", "delete every document ingested from this source instead of by id")
	_ = fs.Parse(reorderArgs(os.Args[2:]))

	if fs.NArg() < 1 && *source == "" {
		fmt.Println("Usage: docrag delete [flags] <document-id>...")
		os.Exit(1)
	}

	_, logger, components := setup(*configPath, false)
	defer logger.Sync()
	defer components.Close()
	ctx := context.Background()

	if *source != "" {
		n, err := components.Indexer.DeleteBySource(ctx, *source)
		if err != nil {
			fmt.Printf("Deletion failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Deleted %d documents from %s\n", n, *source)
	}
	for _, id := range fs.Args() {
		if err := components.Indexer.DeleteDocument(ctx, id); err != nil {
			fmt.Printf("Deletion failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Document deleted: %s\n", id)
	}
}

// contextFlags holds the retrieval overrides of the context command.
type contextFlags struct {
	topK          int
	minSimilarity float64
	maxContext    int
	noMetadata    bool
}

func (f *contextFlags) register(fs *flag.FlagSet) {
	fs.IntVar(&f.topK, "top-k", 0, "number of chunks to retrieve (default from config)")
	fs.Float64Var(&f.minSimilarity, "min-similarity", 0, "minimum cosine similarity (default from config)")
	fs.IntVar(&f.maxContext, "max-context", 0, "context length budget in characters (default from config)")
	fs.BoolVar(&f.noMetadata, "no-metadata", false, "omit the source header of each chunk")
}

// request builds a context request that only overrides the flags that were set.
func (f *contextFlags) request(fs *flag.FlagSet, query string) *models.ContextRequest {
	req := &models.ContextRequest{Query: query}
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "top-k":
			req.TopK = &f.topK
		case "min-similarity":
			req.MinSimilarity = &f.minSimilarity
		case "max-context":
			req.MaxContextLength = &f.maxContext
		case "no-metadata":
			include := !f.noMetadata
			req.IncludeMetadata = &include
		}
	})
	return req
}

func runContext() {
	fs := flag.NewFlagSet("context", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = use direct storage)")
	apiKeyFlag := fs.String("api-key", "", "embedding provider API key (default: from api_key_env)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	var cf contextFlags
	cf.register(fs)
	_ = fs.Parse(reorderArgs(os.Args[2:]))

	query := buildQuery(fs.Args())
	if query == "" {
		fmt.Println("Usage: docrag context [flags] <query>")
		os.Exit(1)
	}
	format := mustOutputFormat(*outputFormat)
	req := cf.request(fs, query)

	var response *models.ContextResponse
	if *serverURL != "" {
		res, err := contextViaHTTP(*serverURL, req, *apiKeyFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Context retrieval failed: %v\n", err)
			os.Exit(1)
		}
		response = res
	} else {
		cfg, logger, components := setup(*configPath, false)
		defer logger.Sync()
		defer components.Close()

		start := time.Now()
		rc, err := components.Assembler.RetrieveContext(context.Background(), query,
			resolveAPIKey(*apiKeyFlag, &cfg.Embedding), req.Config(cfg.RAG.Defaults()))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Context retrieval failed: %v\n", err)
			os.Exit(1)
		}
		response = rag.Response(query, rc, time.Since(start))
	}
	if err := cli.WriteContext(os.Stdout, response, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func contextViaHTTP(serverURL string, req *models.ContextRequest, apiKey string) (*models.ContextResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequest(http.MethodPost, strings.TrimRight(serverURL, "/")+"/api/v1/context", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	}
	var response models.ContextResponse
	if err := doJSON(httpReq, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// statusResponse is the shape of GET /api/v1/status.
type statusResponse struct {
	Store            *models.StoreStats `json:"store"`
	WatchDirectories []string           `json:"watch_directories,omitempty"`
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = use direct storage)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format := mustOutputFormat(*outputFormat)
	var stats *models.StoreStats
	if *serverURL != "" {
		httpReq, err := http.NewRequest(http.MethodGet, strings.TrimRight(*serverURL, "/")+"/api/v1/status", nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		var status statusResponse
		if err := doJSON(httpReq, &status); err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		stats = status.Store
		if stats == nil {
			stats = &models.StoreStats{}
		}
	} else {
		_, logger, components := setup(*configPath, false)
		defer logger.Sync()
		defer components.Close()
		s, err := components.Storage.Stats(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		stats = s
	}
	if err := cli.WriteStatus(os.Stdout, stats, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

var httpClient = &http.Client{Timeout: 60 * time.Second}

func doJSON(req *http.Request, out interface{}) error {
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(b, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func mustOutputFormat(s string) cli.OutputFormat {
	format, err := cli.ParseOutputFormat(s)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return format
}

// buildQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// reorderArgs moves any flags (and their values) that appear after the positional
// arguments to the front so that flag.Parse sees them. The flag package stops at the
// first non-flag argument, so "docrag context my query --top-k 3" would otherwise
// leave --top-k unparsed.
func reorderArgs(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func printUsage() {
	fmt.Println(`docrag - Retrieval-augmented context for chat prompts

Usage:
  docrag server [flags]              Start the HTTP server (and inbox watcher)
  docrag ingest [flags] <file>...    Chunk, embed and store text or markdown files
  docrag list [flags]                List stored documents
  docrag delete [flags] <id>...      Delete documents and their chunks
  docrag context [flags] <query>     Retrieve context for a query
  docrag status [flags]              Show store statistics
  docrag version                     Show version
  docrag help                        Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/docrag/config.yaml,
                     falling back to ./config.yaml, then built-in defaults)
  --output string    Output format: text or json (default: text)

Server Flags:
  --debug            Enable debug logging

Ingest Flags:
  --title string     Document title (single file only)
  --api-key string   Embedding provider API key (default: from embedding.api_key_env)

Delete Flags:
  --source string    Delete every document ingested from this source

Context Flags:
  --top-k int              Number of chunks to retrieve (default from config)
  --min-similarity float   Minimum cosine similarity in [0,1] (default from config)
  --max-context int        Context budget in characters (default from config)
  --no-metadata            Omit the [Source: ...] header of each chunk
  --server string          Server URL; empty uses direct storage
  --api-key string         Embedding provider API key

Status Flags:
  --server string    Server URL; empty uses direct storage

Examples:
  docrag server
  docrag ingest --title "Go FAQ" faq.md
  docrag list --output json
  docrag context how do goroutines communicate --top-k 3
  docrag context --server http://localhost:8080 "what is a channel?"
  docrag delete doc-1700000000000-1a2b3c4d5
  docrag status`)
}
