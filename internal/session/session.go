// Package session orchestrates one rendering pipeline per open book,
// bridges its location events to the position codec and hands normalized
// progress to the persistence gateway.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"liquidreader/internal/format"
	"liquidreader/internal/progress"
	"liquidreader/internal/render"
	"liquidreader/pkg/types"
)

// ErrClosed is returned when an operation targets a closed session.
var ErrClosed = errors.New("session: closed")

// Session is the transient, in-memory state of one open reader view.
type Session struct {
	ID   string
	book *types.Book
	kind format.Kind

	pipeline render.Pipeline
	nav      render.Navigator // nil unless the pipeline tracks positions

	gateway        progress.Gateway
	log            *zap.Logger
	persistTimeout time.Duration
	onAuthExpired  func()

	mu            sync.Mutex
	current       string
	progress      int
	progressKnown bool
	seq           uint64
	failure       error
	lastUsed      time.Time
	closed        bool
}

// View is the API representation of a session.
type View struct {
	ID       string `json:"id"`
	BookID   string `json:"book_id"`
	ViewKind string `json:"view_kind"`
	State    string `json:"state"`
	Failure  string `json:"failure,omitempty"`

	Location string `json:"location,omitempty"`
	// Progress is null while unavailable; unavailable is not 0%.
	Progress *int `json:"progress"`

	// AuthExpired reports the manager-wide expired-credential flag so
	// clients can prompt for a fresh login. Not scoped to this session.
	AuthExpired bool `json:"auth_expired"`

	Toc         []types.TocEntry `json:"toc,omitempty"`
	ViewerURL   string           `json:"viewer_url,omitempty"`
	ContentURL  string           `json:"content_url,omitempty"`
	DownloadURL string           `json:"download_url,omitempty"`
}

// Book returns the book this session reads.
func (s *Session) Book() *types.Book { return s.book }

// Kind returns the resolved pipeline kind.
func (s *Session) Kind() format.Kind { return s.kind }

// Failed reports the terminal failure recorded at mount, if any.
func (s *Session) Failed() (error, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure, s.failure != nil
}

// ReportLocation handles one user-driven navigation event: a page turn or
// a table-of-contents jump carrying the new location token.
func (s *Session) ReportLocation(token string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.failure != nil {
		s.mu.Unlock()
		return s.failure
	}
	s.lastUsed = time.Now()
	s.mu.Unlock()

	if s.nav == nil {
		return render.ErrNoPositionTracking
	}
	// NavigateTo fires the registered handler, which runs
	// handleLocation below.
	return s.nav.NavigateTo(token)
}

// handleLocation is the single consumer of the pipeline's location events.
// The location is recorded unconditionally; progress is only updated when
// the codec can produce a percentage, and a save is issued fire-and-forget
// with the next sequence number.
func (s *Session) handleLocation(loc render.Location) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.current = loc.Token

	idx, ready := s.nav.Index()
	if !ready {
		// Progress keeps its last known value; it must not reset to
		// an unfounded 0% while the index builds.
		s.mu.Unlock()
		return
	}
	pct, ok := idx.Percentage(loc.Token)
	if !ok {
		s.mu.Unlock()
		return
	}
	s.progress = pct
	s.progressKnown = true
	s.seq++
	upd := types.ProgressUpdate{Progress: pct, LastLocation: loc.Token, Seq: s.seq}
	s.mu.Unlock()

	go s.persist(upd)
}

// persist runs one fire-and-forget save. Failures are logged and never
// block reading; an authorization failure additionally raises the global
// session-expiry notification.
func (s *Session) persist(upd types.ProgressUpdate) {
	ctx, cancel := context.WithTimeout(context.Background(), s.persistTimeout)
	defer cancel()

	err := s.gateway.SaveProgress(ctx, s.book.ID, upd)
	switch {
	case err == nil:
	case errors.Is(err, progress.ErrSessionAuthExpired):
		s.log.Warn("progress save rejected: session auth expired",
			zap.String("book_id", s.book.ID))
		if s.onAuthExpired != nil {
			s.onAuthExpired()
		}
	default:
		s.log.Warn("progress save failed",
			zap.String("book_id", s.book.ID),
			zap.Uint64("seq", upd.Seq),
			zap.Error(err))
	}
}

// Progress returns the current percentage and whether one is known.
func (s *Session) Progress() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress, s.progressKnown
}

// CurrentLocation returns the last reported token.
func (s *Session) CurrentLocation() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Content returns the pipeline's server-rendered markup, when it has any.
func (s *Session) Content(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrClosed
	}
	s.lastUsed = time.Now()
	pipeline := s.pipeline
	s.mu.Unlock()

	cp, ok := pipeline.(render.ContentProvider)
	if !ok {
		return "", fmt.Errorf("pipeline %s serves no content", s.kind)
	}
	return cp.Content(ctx)
}

// snapshotView builds the API view. When the index became ready since the
// last event, the current location's percentage is computed lazily so the
// session transitions to a defined value without waiting for another page
// turn. No save is issued here; only navigation events persist.
func (s *Session) snapshotView(baseURL string) View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		ID:       s.ID,
		BookID:   s.book.ID,
		ViewKind: s.kind.String(),
		Location: s.current,
	}

	if s.failure != nil {
		v.State = "failed"
		v.Failure = s.failure.Error()
		return v
	}

	switch s.kind {
	case format.Unsupported:
		v.State = "unsupported"
		v.DownloadURL = fmt.Sprintf("%s/uploads/%s", baseURL, s.book.Path)
		return v

	case format.FixedPage:
		v.State = "ready"
		if up, ok := s.pipeline.(render.ViewerURLProvider); ok {
			v.ViewerURL = up.ViewerURL()
		}
		return v

	case format.FlattenedHTML:
		v.State = "ready"
		v.ContentURL = fmt.Sprintf("/api/v1/sessions/%s/content", s.ID)
		return v
	}

	v.State = s.nav.IndexState().String()
	v.Toc = s.nav.TableOfContents()
	v.ContentURL = fmt.Sprintf("/api/v1/sessions/%s/content", s.ID)

	if !s.progressKnown && s.current != "" {
		if idx, ready := s.nav.Index(); ready {
			if pct, ok := idx.Percentage(s.current); ok {
				s.progress = pct
				s.progressKnown = true
			}
		}
	}
	if s.progressKnown {
		p := s.progress
		v.Progress = &p
	}
	return v
}

// close stops event delivery and releases the pipeline. In-flight saves
// complete or fail on their own; the last acknowledged save stays
// authoritative.
func (s *Session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	if s.pipeline != nil {
		if err := s.pipeline.Close(); err != nil {
			s.log.Warn("pipeline close failed", zap.Error(err))
		}
	}
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}
