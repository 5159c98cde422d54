// Package progress defines the persistence gateway used by reading
// sessions to save and retrieve a book's (progress, lastLocation) pair.
package progress

import (
	"context"
	"errors"

	"liquidreader/internal/book"
	"liquidreader/pkg/types"
)

var (
	// ErrPersistenceFailed indicates a progress save was rejected or the
	// gateway was unreachable. Non-fatal: callers log it and keep reading.
	ErrPersistenceFailed = errors.New("progress: persistence failed")

	// ErrSessionAuthExpired indicates the gateway rejected the session
	// credential. Surfaced globally, independent of any open session.
	ErrSessionAuthExpired = errors.New("progress: session auth expired")
)

// Gateway is the external interface used to persist and retrieve reading
// progress for a book.
type Gateway interface {
	// Book retrieves the metadata used to seed a reading session.
	Book(ctx context.Context, bookID string) (*types.Book, error)

	// SaveProgress persists a progress update. Saves are fire-and-forget
	// from the session's point of view; an error never interrupts reading.
	SaveProgress(ctx context.Context, bookID string, upd types.ProgressUpdate) error
}

// LocalGateway serves sessions directly from the book repository when the
// service hosts its own book store.
type LocalGateway struct {
	repo book.Repository
}

// NewLocalGateway creates a repository-backed gateway.
func NewLocalGateway(repo book.Repository) *LocalGateway {
	return &LocalGateway{repo: repo}
}

// Book retrieves book metadata from the repository.
func (g *LocalGateway) Book(ctx context.Context, bookID string) (*types.Book, error) {
	return g.repo.GetBook(ctx, bookID)
}

// SaveProgress persists a progress update through the repository. A stale
// sequence number is silently dropped per the logical-clock guard.
func (g *LocalGateway) SaveProgress(ctx context.Context, bookID string, upd types.ProgressUpdate) error {
	if _, err := g.repo.SaveProgress(ctx, bookID, upd); err != nil {
		return errors.Join(ErrPersistenceFailed, err)
	}
	return nil
}
