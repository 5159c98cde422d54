package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"liquidreader/internal/book"
	"liquidreader/internal/render"
	"liquidreader/internal/session"
)

// SessionHandler handles reading-session API endpoints
type SessionHandler struct {
	manager *session.Manager
	log     *zap.Logger
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(manager *session.Manager, log *zap.Logger) *SessionHandler {
	return &SessionHandler{
		manager: manager,
		log:     log,
	}
}

// OpenSession handles POST /api/v1/sessions
func (h *SessionHandler) OpenSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		BookID string `json:"book_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.BookID == "" {
		respondError(w, "book_id required", http.StatusBadRequest)
		return
	}

	s, err := h.manager.Open(r.Context(), req.BookID)
	if err != nil {
		if errors.Is(err, book.ErrBookNotFound) {
			respondError(w, "Book not found", http.StatusNotFound)
			return
		}
		h.log.Error("failed to open session", zap.String("book_id", req.BookID), zap.Error(err))
		respondError(w, "Failed to open session", http.StatusInternalServerError)
		return
	}

	respondJSON(w, h.manager.View(s), http.StatusCreated)
}

// GetSession handles GET /api/v1/sessions/{id}
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := extractIDFromPath(r.URL.Path, "/api/v1/sessions/")
	s, ok := h.lookup(w, id)
	if !ok {
		return
	}

	respondJSON(w, h.manager.View(s), http.StatusOK)
}

// ReportLocation handles POST /api/v1/sessions/{id}/location
func (h *SessionHandler) ReportLocation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := extractIDFromPath(r.URL.Path, "/api/v1/sessions/")
	s, ok := h.lookup(w, id)
	if !ok {
		return
	}

	var req struct {
		Location string `json:"location"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Location == "" {
		respondError(w, "location required", http.StatusBadRequest)
		return
	}

	if err := s.ReportLocation(req.Location); err != nil {
		switch {
		case errors.Is(err, session.ErrClosed):
			respondError(w, "Session closed", http.StatusGone)
		case errors.Is(err, render.ErrNoPositionTracking):
			respondError(w, "Session does not track positions", http.StatusConflict)
		case errors.Is(err, render.ErrUnknownLocation):
			respondError(w, "Unknown location", http.StatusBadRequest)
		default:
			respondError(w, "Session failed to open", http.StatusConflict)
		}
		return
	}

	respondJSON(w, h.manager.View(s), http.StatusOK)
}

// SessionContent handles GET /api/v1/sessions/{id}/content
func (h *SessionHandler) SessionContent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := extractIDFromPath(r.URL.Path, "/api/v1/sessions/")
	s, ok := h.lookup(w, id)
	if !ok {
		return
	}

	content, err := s.Content(r.Context())
	if err != nil {
		switch {
		case errors.Is(err, session.ErrClosed):
			respondError(w, "Session closed", http.StatusGone)
		case errors.Is(err, render.ErrEmptyContent):
			respondError(w, "Document has no readable content", http.StatusUnprocessableEntity)
		default:
			h.log.Error("failed to produce content", zap.String("session_id", id), zap.Error(err))
			respondError(w, "Content unavailable", http.StatusConflict)
		}
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(content))
}

// CloseSession handles DELETE /api/v1/sessions/{id}
func (h *SessionHandler) CloseSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := extractIDFromPath(r.URL.Path, "/api/v1/sessions/")
	if id == "" {
		respondError(w, "Session ID required", http.StatusBadRequest)
		return
	}

	if !h.manager.Close(id) {
		respondError(w, "Session not found", http.StatusNotFound)
		return
	}

	respondJSON(w, map[string]string{"id": id, "status": "closed"}, http.StatusOK)
}

// Route dispatches /api/v1/sessions/{id}[/...] subpaths.
func (h *SessionHandler) Route(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	case strings.HasSuffix(path, "/location"):
		h.ReportLocation(w, r)
	case strings.HasSuffix(path, "/content"):
		h.SessionContent(w, r)
	case r.Method == http.MethodDelete:
		h.CloseSession(w, r)
	default:
		h.GetSession(w, r)
	}
}

func (h *SessionHandler) lookup(w http.ResponseWriter, id string) (*session.Session, bool) {
	if id == "" {
		respondError(w, "Session ID required", http.StatusBadRequest)
		return nil, false
	}
	s, ok := h.manager.Get(id)
	if !ok {
		respondError(w, "Session not found", http.StatusNotFound)
		return nil, false
	}
	return s, true
}
