package book

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"liquidreader/internal/storage"
	"liquidreader/pkg/types"
)

// ErrBookNotFound is returned when no book exists with the requested ID.
var ErrBookNotFound = errors.New("book: not found")

// Repository handles book metadata and progress persistence
type Repository interface {
	// SaveBook stores book metadata
	SaveBook(ctx context.Context, book *types.Book) error

	// GetBook retrieves book metadata by ID
	GetBook(ctx context.Context, bookID string) (*types.Book, error)

	// ListBooks returns all books
	ListBooks(ctx context.Context) ([]*types.Book, error)

	// DeleteBook removes book metadata
	DeleteBook(ctx context.Context, bookID string) error

	// SaveProgress applies a progress update to a book. Updates whose
	// sequence number is not greater than the last accepted one are
	// stale completions of fire-and-forget saves; they report applied ==
	// false and leave the record untouched.
	SaveProgress(ctx context.Context, bookID string, upd types.ProgressUpdate) (applied bool, err error)

	// Close releases backend resources
	Close() error
}

// NewRepository creates a repository for the configured backend.
func NewRepository(cfg types.RepositoryConfig, adapter storage.Adapter) (Repository, error) {
	switch cfg.Backend {
	case "", "storage":
		return NewStorageRepository(adapter), nil
	case "sqlite":
		return NewSqliteRepository(cfg.Sqlite.Path)
	default:
		return nil, fmt.Errorf("unknown repository backend: %s", cfg.Backend)
	}
}

// StorageRepository implements Repository with JSON blobs kept in the
// storage adapter, next to the raw book files.
type StorageRepository struct {
	storage storage.Adapter
}

// NewStorageRepository creates a storage-adapter-backed repository.
func NewStorageRepository(adapter storage.Adapter) *StorageRepository {
	return &StorageRepository{storage: adapter}
}

func metadataPath(bookID string) string {
	return path.Join("books", bookID, "metadata.json")
}

// SaveBook stores book metadata
func (r *StorageRepository) SaveBook(ctx context.Context, book *types.Book) error {
	data, err := json.Marshal(book)
	if err != nil {
		return fmt.Errorf("failed to marshal book: %w", err)
	}
	return r.storage.Put(ctx, metadataPath(book.ID), bytes.NewReader(data))
}

// GetBook retrieves book metadata by ID
func (r *StorageRepository) GetBook(ctx context.Context, bookID string) (*types.Book, error) {
	reader, err := r.storage.Get(ctx, metadataPath(bookID))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrBookNotFound, bookID)
		}
		return nil, fmt.Errorf("failed to get book metadata: %w", err)
	}
	defer reader.Close()

	var book types.Book
	if err := json.NewDecoder(reader).Decode(&book); err != nil {
		return nil, fmt.Errorf("failed to decode book metadata: %w", err)
	}
	return &book, nil
}

// ListBooks returns all books
func (r *StorageRepository) ListBooks(ctx context.Context) ([]*types.Book, error) {
	paths, err := r.storage.List(ctx, "books/")
	if err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}

	books := make([]*types.Book, 0)
	for _, p := range paths {
		if path.Base(p) != "metadata.json" {
			continue
		}
		reader, err := r.storage.Get(ctx, p)
		if err != nil {
			continue // skip unreadable entries
		}
		var book types.Book
		err = json.NewDecoder(reader).Decode(&book)
		reader.Close()
		if err != nil {
			continue
		}
		books = append(books, &book)
	}
	return books, nil
}

// DeleteBook removes book metadata
func (r *StorageRepository) DeleteBook(ctx context.Context, bookID string) error {
	return r.storage.Delete(ctx, metadataPath(bookID))
}

// SaveProgress applies a progress update, enforcing the sequence guard.
func (r *StorageRepository) SaveProgress(ctx context.Context, bookID string, upd types.ProgressUpdate) (bool, error) {
	book, err := r.GetBook(ctx, bookID)
	if err != nil {
		return false, err
	}
	if upd.Seq <= book.ProgressSeq {
		return false, nil
	}

	p := upd.Progress
	book.Progress = &p
	book.LastLocation = upd.LastLocation
	book.ProgressSeq = upd.Seq
	book.LastRead = time.Now().UTC()

	if err := r.SaveBook(ctx, book); err != nil {
		return false, err
	}
	return true, nil
}

// Close releases backend resources
func (r *StorageRepository) Close() error {
	return nil
}

// ReadRawFile loads the raw uploaded bytes stored under the given key.
func ReadRawFile(ctx context.Context, adapter storage.Adapter, key string) ([]byte, error) {
	reader, err := adapter.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}
