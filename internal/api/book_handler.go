package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strings"

	"github.com/h2non/filetype"
	"go.uber.org/zap"

	"liquidreader/internal/book"
	"liquidreader/internal/storage"
	"liquidreader/pkg/types"
)

// BookHandler handles book-related API endpoints
type BookHandler struct {
	repo    book.Repository
	storage storage.Adapter
	log     *zap.Logger
}

// NewBookHandler creates a new book handler
func NewBookHandler(repo book.Repository, adapter storage.Adapter, log *zap.Logger) *BookHandler {
	return &BookHandler{
		repo:    repo,
		storage: adapter,
		log:     log,
	}
}

// ListBooks handles GET /api/v1/books
func (h *BookHandler) ListBooks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	books, err := h.repo.ListBooks(r.Context())
	if err != nil {
		h.log.Error("failed to list books", zap.Error(err))
		respondError(w, "Failed to list books", http.StatusInternalServerError)
		return
	}

	respondJSON(w, books, http.StatusOK)
}

// GetBook handles GET /api/v1/books/{id}
func (h *BookHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	bookID := extractIDFromPath(r.URL.Path, "/api/v1/books/")
	if bookID == "" {
		respondError(w, "Book ID required", http.StatusBadRequest)
		return
	}

	b, err := h.repo.GetBook(r.Context(), bookID)
	if err != nil {
		respondError(w, "Book not found", http.StatusNotFound)
		return
	}

	respondJSON(w, b, http.StatusOK)
}

// DeleteBook handles DELETE /api/v1/books/{id}
func (h *BookHandler) DeleteBook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	bookID := extractIDFromPath(r.URL.Path, "/api/v1/books/")
	if bookID == "" {
		respondError(w, "Book ID required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	b, err := h.repo.GetBook(ctx, bookID)
	if err != nil {
		respondError(w, "Book not found", http.StatusNotFound)
		return
	}

	if b.Path != "" {
		if err := h.storage.Delete(ctx, b.Path); err != nil && !errors.Is(err, storage.ErrNotFound) {
			h.log.Warn("failed to delete raw file", zap.String("book_id", bookID), zap.Error(err))
		}
	}
	if err := h.repo.DeleteBook(ctx, bookID); err != nil {
		h.log.Error("failed to delete book", zap.String("book_id", bookID), zap.Error(err))
		respondError(w, "Failed to delete book", http.StatusInternalServerError)
		return
	}

	respondJSON(w, map[string]string{"id": bookID, "status": "deleted"}, http.StatusOK)
}

// SaveProgress handles POST /api/v1/books/{id}/progress
func (h *BookHandler) SaveProgress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	bookID := extractIDFromPath(r.URL.Path, "/api/v1/books/")
	if bookID == "" {
		respondError(w, "Book ID required", http.StatusBadRequest)
		return
	}

	var upd types.ProgressUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if upd.Progress < 0 || upd.Progress > 100 {
		respondError(w, "Progress must be between 0 and 100", http.StatusBadRequest)
		return
	}
	if upd.LastLocation == "" {
		respondError(w, "Location required", http.StatusBadRequest)
		return
	}

	applied, err := h.repo.SaveProgress(r.Context(), bookID, upd)
	if err != nil {
		if errors.Is(err, book.ErrBookNotFound) {
			respondError(w, "Book not found", http.StatusNotFound)
			return
		}
		h.log.Error("failed to save progress", zap.String("book_id", bookID), zap.Error(err))
		respondError(w, "Failed to save progress", http.StatusInternalServerError)
		return
	}

	respondJSON(w, map[string]interface{}{
		"id":      bookID,
		"applied": applied,
	}, http.StatusOK)
}

// ServeFile handles GET /uploads/{path}. It streams raw book bytes so
// the browser can render fixed-layout files natively and download
// unsupported ones.
func (h *BookHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	key := strings.TrimPrefix(r.URL.Path, "/uploads/")
	if key == "" || strings.Contains(key, "..") {
		respondError(w, "Invalid path", http.StatusBadRequest)
		return
	}

	data, err := book.ReadRawFile(r.Context(), h.storage, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, "File not found", http.StatusNotFound)
			return
		}
		h.log.Error("failed to read file", zap.String("path", key), zap.Error(err))
		respondError(w, "Failed to read file", http.StatusInternalServerError)
		return
	}

	contentType := "application/octet-stream"
	if kind, err := filetype.Match(data); err == nil && kind != filetype.Unknown {
		contentType = kind.MIME.Value
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `inline; filename="`+path.Base(key)+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func extractIDFromPath(path, prefix string) string {
	if !strings.HasPrefix(path, prefix) {
		return ""
	}
	rest := strings.TrimPrefix(path, prefix)
	parts := strings.Split(rest, "/")
	if len(parts) > 0 {
		return parts[0]
	}
	return ""
}

func respondJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
