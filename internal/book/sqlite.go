package book

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"liquidreader/pkg/types"
)

// SqliteRepository implements Repository on a SQLite database. It is the
// backend of choice when the storage adapter is remote (S3) and metadata
// round-trips would otherwise hit the network.
type SqliteRepository struct {
	db *sql.DB
}

// NewSqliteRepository opens (or creates) the database at dbPath and applies
// the schema.
func NewSqliteRepository(dbPath string) (*SqliteRepository, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	// busy_timeout avoids spurious SQLITE_BUSY under concurrent saves.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS books (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		author TEXT NOT NULL DEFAULT '',
		original_name TEXT NOT NULL,
		path TEXT NOT NULL,
		format TEXT NOT NULL,
		size INTEGER NOT NULL DEFAULT 0,
		uploaded_at DATETIME NOT NULL,
		last_location TEXT NOT NULL DEFAULT '',
		progress INTEGER,
		progress_seq INTEGER NOT NULL DEFAULT 0,
		last_read DATETIME
	);`); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SqliteRepository{db: db}, nil
}

// SaveBook stores book metadata
func (r *SqliteRepository) SaveBook(ctx context.Context, b *types.Book) error {
	var lastRead any
	if !b.LastRead.IsZero() {
		lastRead = b.LastRead
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO books
		(id, title, author, original_name, path, format, size, uploaded_at,
		 last_location, progress, progress_seq, last_read)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		 title=excluded.title, author=excluded.author,
		 original_name=excluded.original_name, path=excluded.path,
		 format=excluded.format, size=excluded.size,
		 uploaded_at=excluded.uploaded_at,
		 last_location=excluded.last_location, progress=excluded.progress,
		 progress_seq=excluded.progress_seq, last_read=excluded.last_read;`,
		b.ID, b.Title, b.Author, b.OriginalName, b.Path, b.Format, b.Size,
		b.UploadedAt, b.LastLocation, b.Progress, b.ProgressSeq, lastRead)
	if err != nil {
		return fmt.Errorf("save book: %w", err)
	}
	return nil
}

// GetBook retrieves book metadata by ID
func (r *SqliteRepository) GetBook(ctx context.Context, bookID string) (*types.Book, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, title, author, original_name,
		path, format, size, uploaded_at, last_location, progress,
		progress_seq, last_read FROM books WHERE id = ?;`, bookID)
	return scanBook(row)
}

// ListBooks returns all books
func (r *SqliteRepository) ListBooks(ctx context.Context) ([]*types.Book, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, title, author,
		original_name, path, format, size, uploaded_at, last_location,
		progress, progress_seq, last_read
		FROM books ORDER BY uploaded_at;`)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	defer rows.Close()

	books := make([]*types.Book, 0)
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		books = append(books, b)
	}
	return books, rows.Err()
}

// DeleteBook removes book metadata
func (r *SqliteRepository) DeleteBook(ctx context.Context, bookID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM books WHERE id = ?;`, bookID)
	if err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	return nil
}

// SaveProgress applies a progress update, enforcing the sequence guard in a
// single statement so concurrent saves cannot interleave.
func (r *SqliteRepository) SaveProgress(ctx context.Context, bookID string, upd types.ProgressUpdate) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE books SET
		 progress = ?, last_location = ?, progress_seq = ?, last_read = ?
		WHERE id = ? AND progress_seq < ?;`,
		upd.Progress, upd.LastLocation, upd.Seq, time.Now().UTC(),
		bookID, upd.Seq)
	if err != nil {
		return false, fmt.Errorf("save progress: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		// Stale sequence or unknown book; tell them apart.
		if _, err := r.GetBook(ctx, bookID); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// Close releases backend resources
func (r *SqliteRepository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBook(row rowScanner) (*types.Book, error) {
	var b types.Book
	var progress sql.NullInt64
	var lastRead sql.NullTime
	err := row.Scan(&b.ID, &b.Title, &b.Author, &b.OriginalName, &b.Path,
		&b.Format, &b.Size, &b.UploadedAt, &b.LastLocation, &progress,
		&b.ProgressSeq, &lastRead)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan book: %w", err)
	}
	if progress.Valid {
		p := int(progress.Int64)
		b.Progress = &p
	}
	if lastRead.Valid {
		b.LastRead = lastRead.Time
	}
	return &b, nil
}
