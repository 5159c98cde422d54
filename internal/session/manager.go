package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"liquidreader/internal/format"
	"liquidreader/internal/progress"
	"liquidreader/internal/render/fixed"
	"liquidreader/internal/render/flatten"
	"liquidreader/internal/render/reflow"
	"liquidreader/internal/storage"
	"liquidreader/pkg/types"
)

// Manager owns the live reading sessions. Each open reader view maps to
// exactly one session; no two sessions share pipeline state.
type Manager struct {
	gateway progress.Gateway
	storage storage.Adapter
	cfg     types.ReaderConfig
	baseURL string
	log     *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session

	authExpired atomic.Bool
	stop        chan struct{}
	stopOnce    sync.Once
}

// NewManager creates a session manager.
func NewManager(gw progress.Gateway, adapter storage.Adapter, cfg types.ReaderConfig, baseURL string, log *zap.Logger) *Manager {
	m := &Manager{
		gateway:  gw,
		storage:  adapter,
		cfg:      cfg,
		baseURL:  baseURL,
		log:      log,
		sessions: make(map[string]*Session),
		stop:     make(chan struct{}),
	}
	if cfg.SessionIdleTimeout > 0 {
		go m.reapLoop(time.Duration(cfg.SessionIdleTimeout) * time.Second)
	}
	return m
}

// Open mounts a reading session for the given book: resolve the format,
// instantiate the pipeline, and resume at the persisted location if one
// exists. Pipeline failures do not fail Open; they are recorded on the
// session as a terminal "could not load" state.
func (m *Manager) Open(ctx context.Context, bookID string) (*Session, error) {
	book, err := m.gateway.Book(ctx, bookID)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	s := &Session{
		ID:             id,
		book:           book,
		kind:           resolveKind(book),
		gateway:        m.gateway,
		log:            m.log.With(zap.String("session_id", id), zap.String("book_id", book.ID)),
		persistTimeout: persistTimeout(m.cfg),
		onAuthExpired:  func() { m.authExpired.Store(true) },
		lastUsed:       time.Now(),
	}

	m.mount(ctx, s)

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.log.Info("session opened",
		zap.String("session_id", s.ID),
		zap.String("book_id", book.ID),
		zap.String("view_kind", s.kind.String()))
	return s, nil
}

// mount instantiates and opens the pipeline for the session's kind.
func (m *Manager) mount(ctx context.Context, s *Session) {
	switch s.kind {
	case format.Unsupported:
		// A defined terminal state: the view offers a raw download and
		// no pipeline is instantiated.
		return

	case format.Reflowable:
		r := reflow.New(s.book, m.storage, s.log)
		s.pipeline, s.nav = r, r

	case format.FixedPage:
		s.pipeline = fixed.New(s.book, m.storage, m.baseURL)

	case format.FlattenedHTML:
		s.pipeline = flatten.New(s.book, m.storage, s.log)
	}

	if err := s.pipeline.Open(ctx); err != nil {
		s.failure = err
		s.log.Error("pipeline failed to load", zap.Error(err))
		return
	}

	if s.nav != nil {
		s.nav.OnLocationChanged(s.handleLocation)
		m.resume(s)
	}
}

// resume seeds the session from the persisted (progress, lastLocation)
// pair and navigates to it, falling back to the document's beginning when
// there is none or the stored token no longer resolves.
func (m *Manager) resume(s *Session) {
	if s.book.LastLocation != "" {
		if s.book.Progress != nil {
			// Seed the last known percentage so the view does not
			// flash an unfounded unknown (or 0%) while indexing.
			s.mu.Lock()
			s.progress = *s.book.Progress
			s.progressKnown = true
			// Persisted saves already cover sequence numbers up to
			// the stored one; new saves must sort after them.
			s.seq = s.book.ProgressSeq
			s.mu.Unlock()
		}
		if err := s.nav.NavigateTo(s.book.LastLocation); err == nil {
			return
		}
		s.log.Warn("stored location no longer resolves, starting over",
			zap.String("location", s.book.LastLocation))
	}
	if err := s.nav.NavigateTo(s.nav.FirstLocation()); err != nil {
		s.log.Warn("could not navigate to document start", zap.Error(err))
	}
}

// Get returns a live session by ID.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// View builds the API representation of a session, stamping it with the
// global expired-credential flag.
func (m *Manager) View(s *Session) View {
	v := s.snapshotView(m.baseURL)
	v.AuthExpired = m.authExpired.Load()
	return v
}

// Close unmounts a session. In-flight saves are not cancelled.
func (m *Manager) Close(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return false
	}
	s.close()
	m.log.Info("session closed", zap.String("session_id", id))
	return true
}

// Shutdown closes every live session and stops the reaper.
func (m *Manager) Shutdown() {
	m.stopOnce.Do(func() { close(m.stop) })

	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
}

// AuthExpired reports whether any persistence call has been rejected for
// an expired credential. Global: independent of any one open session.
func (m *Manager) AuthExpired() bool {
	return m.authExpired.Load()
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// reapLoop drops sessions idle longer than the configured timeout.
func (m *Manager) reapLoop(idle time.Duration) {
	ticker := time.NewTicker(idle / 4)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-idle)
			m.mu.Lock()
			var expired []string
			for id, s := range m.sessions {
				if s.idleSince().Before(cutoff) {
					expired = append(expired, id)
				}
			}
			m.mu.Unlock()
			for _, id := range expired {
				m.log.Info("reaping idle session", zap.String("session_id", id))
				m.Close(id)
			}
		}
	}
}

// resolveKind picks the pipeline from the stored path's extension, falling
// back to the declared format when the path carries none.
func resolveKind(book *types.Book) format.Kind {
	if kind := format.Resolve(book.Path); kind != format.Unsupported {
		return kind
	}
	return format.Resolve("." + book.Format)
}

func persistTimeout(cfg types.ReaderConfig) time.Duration {
	if cfg.PersistTimeout > 0 {
		return time.Duration(cfg.PersistTimeout) * time.Second
	}
	return 5 * time.Second
}
