// Package server provides the HTTP API for docrag.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/docrag/internal/config"
	"github.com/hyperjump/docrag/internal/indexer"
	"github.com/hyperjump/docrag/internal/models"
	"github.com/hyperjump/docrag/internal/rag"
	"github.com/hyperjump/docrag/internal/storage"
)

const defaultMaxUploadBytes = 32 << 20

// WatchService reports the inbox directories being watched.
type WatchService interface {
	Directories() []string
}

// Server is the HTTP server for the docrag API.
type Server struct {
	indexer        *indexer.Indexer
	assembler      *rag.Assembler
	storage        storage.Storage
	config         *config.ServerConfig
	ragDefaults    models.RAGConfig
	defaultAPIKey  string
	watcher        WatchService
	maxUploadBytes int64
	logger         *zap.Logger
	server         *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithDefaultAPIKey sets the provider key used when a request carries no bearer token.
func WithDefaultAPIKey(key string) Option {
	return func(s *Server) { s.defaultAPIKey = key }
}

// WithWatcher reports the watched inbox directories in the status endpoint.
func WithWatcher(w WatchService) Option {
	return func(s *Server) { s.watcher = w }
}

// WithMaxUploadBytes limits the size of uploaded files.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) { s.maxUploadBytes = n }
}

// NewServer creates a server with the given dependencies. ragDefaults fills in
// options a context request leaves unset.
func NewServer(
	idx *indexer.Indexer,
	assembler *rag.Assembler,
	store storage.Storage,
	cfg *config.ServerConfig,
	ragDefaults models.RAGConfig,
	logger *zap.Logger,
	opts ...Option,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		indexer:        idx,
		assembler:      assembler,
		storage:        store,
		config:         cfg,
		ragDefaults:    ragDefaults,
		maxUploadBytes: defaultMaxUploadBytes,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/documents", s.handleIngestDocument)
		r.Post("/documents/upload", s.handleUploadDocument)
		r.Get("/documents", s.handleListDocuments)
		r.Get("/documents/{id}", s.handleGetDocument)
		r.Delete("/documents/{id}", s.handleDeleteDocument)
		r.Post("/context", s.handleContext)
		r.Get("/status", s.handleStatus)
	})
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
