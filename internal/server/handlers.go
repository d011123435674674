package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/docrag/internal/embedding"
	"github.com/hyperjump/docrag/internal/extract"
	"github.com/hyperjump/docrag/internal/indexer"
	"github.com/hyperjump/docrag/internal/models"
	"github.com/hyperjump/docrag/internal/rag"
	"github.com/hyperjump/docrag/internal/storage"
	"github.com/hyperjump/docrag/internal/vector"
)

func (s *Server) handleIngestDocument(w http.ResponseWriter, r *http.Request) {
	var input models.DocumentInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(input.Content) == "" {
		s.respondError(w, http.StatusBadRequest, "content is required")
		return
	}

	doc, err := s.indexer.IngestDocument(r.Context(), &input, s.apiKey(r))
	if err != nil {
		s.handleError(w, "ingest document", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, summarize(doc))
}

func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "failed to read upload")
		return
	}
	doc, err := s.indexer.IngestUpload(r.Context(), header.Filename, content, s.apiKey(r))
	if err != nil {
		s.handleError(w, "upload document", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, summarize(doc))
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		since = t
	}
	docs, err := s.indexer.ListDocuments(r.Context(), since)
	if err != nil {
		s.handleError(w, "list documents", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"documents": docs,
		"total":     len(docs),
	})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, err := s.indexer.GetDocument(r.Context(), id)
	if err != nil {
		s.handleError(w, "get document", err)
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.indexer.DeleteDocument(r.Context(), id); err != nil {
		s.handleError(w, "delete document", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	var req models.ContextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	start := time.Now()
	rc, err := s.assembler.RetrieveContext(r.Context(), req.Query, s.apiKey(r), req.Config(s.ragDefaults))
	if err != nil {
		s.handleError(w, "retrieve context", err)
		return
	}
	s.respondJSON(w, http.StatusOK, rag.Response(req.Query, rc, time.Since(start)))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.storage.Stats(r.Context())
	if err != nil {
		s.logger.Error("status: store stats failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]interface{}{
		"store": stats,
		"rag":   s.ragDefaults,
	}
	if s.watcher != nil {
		resp["watch_directories"] = s.watcher.Directories()
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// apiKey returns the bearer token of the request, or the server's default key.
func (s *Server) apiKey(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok && strings.TrimSpace(token) != "" {
		return strings.TrimSpace(token)
	}
	return s.defaultAPIKey
}

func (s *Server) handleError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", zap.Error(err))
	} else {
		s.logger.Debug(op+" rejected", zap.Int("status", status), zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func statusFor(err error) int {
	var (
		providerErr *embedding.ProviderError
		fileErr     *extract.UnsupportedFileTypeError
		mismatch    *vector.DimensionMismatchError
	)
	switch {
	case errors.Is(err, embedding.ErrAuthentication):
		return http.StatusUnauthorized
	case errors.As(err, &providerErr):
		return http.StatusBadGateway
	case errors.As(err, &fileErr):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, indexer.ErrEmptyDocument), errors.Is(err, models.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.As(err, &mismatch):
		return http.StatusConflict
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func summarize(doc *models.Document) *models.DocumentSummary {
	return &models.DocumentSummary{
		ID:          doc.ID,
		Title:       doc.Title,
		Source:      doc.Source,
		ChunkCount:  len(doc.Chunks),
		TotalTokens: doc.TotalTokens,
		CreatedAt:   doc.CreatedAt,
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
