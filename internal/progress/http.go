package progress

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"liquidreader/pkg/types"
)

// SessionContext carries the credential used to authorize gateway calls.
// It is created at login and passed explicitly to the client; there is no
// ambient credential lookup. Invalidate it on logout or expiry.
type SessionContext struct {
	mu    sync.RWMutex
	token string
}

// NewSessionContext creates a session context holding the given bearer token.
func NewSessionContext(token string) *SessionContext {
	return &SessionContext{token: token}
}

// Token returns the current credential, or "" after invalidation.
func (s *SessionContext) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Invalidate clears the credential.
func (s *SessionContext) Invalidate() {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
}

// HTTPGateway talks to a remote persistence backend over HTTP:
// GET /books/{id} and POST /books/{id}/progress.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
	session *SessionContext
}

// NewHTTPGateway creates a gateway client for the given backend origin.
func NewHTTPGateway(baseURL string, session *SessionContext) *HTTPGateway {
	return &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		session: session,
	}
}

// Book retrieves book metadata from the remote backend.
func (g *HTTPGateway) Book(ctx context.Context, bookID string) (*types.Book, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/books/%s", g.baseURL, bookID), nil)
	if err != nil {
		return nil, err
	}
	g.authorize(req)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, ErrSessionAuthExpired
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrPersistenceFailed, resp.StatusCode)
	}

	var book types.Book
	if err := json.NewDecoder(resp.Body).Decode(&book); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrPersistenceFailed, err)
	}
	return &book, nil
}

// SaveProgress posts a progress update. Any status other than 200/201 is a
// failure; 401/403 additionally signals an expired session credential.
func (g *HTTPGateway) SaveProgress(ctx context.Context, bookID string, upd types.ProgressUpdate) error {
	body, err := json.Marshal(upd)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/books/%s/progress", g.baseURL, bookID), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	g.authorize(req)

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrSessionAuthExpired
	default:
		return fmt.Errorf("%w: status %d", ErrPersistenceFailed, resp.StatusCode)
	}
}

func (g *HTTPGateway) authorize(req *http.Request) {
	if g.session == nil {
		return
	}
	if token := g.session.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}
