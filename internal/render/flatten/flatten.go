// Package flatten implements the MOBI/PRC pipeline: the binary container
// is fetched whole, decoded into ordered content fragments, and the
// fragment bodies are concatenated into one continuous scrollable
// document. Loading is all-or-nothing: any fragment decode failure aborts
// the load, and the pipeline never reports a position.
//
// The concatenated markup is served without a sanitization step. That is
// acceptable only because content comes from the user's own uploaded
// files; any multi-user deployment must insert a sanitizer between decode
// and render.
package flatten

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/h2non/filetype"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"liquidreader/internal/format"
	"liquidreader/internal/mobi"
	"liquidreader/internal/render"
	"liquidreader/internal/storage"
	"liquidreader/pkg/types"
)

// Renderer is the flattened-HTML pipeline for one reading session.
type Renderer struct {
	book    *types.Book
	storage storage.Adapter
	log     *zap.Logger

	mu        sync.Mutex
	document  string
	fragments []mobi.Fragment
}

// New creates a flattened-HTML renderer for the given book.
func New(book *types.Book, adapter storage.Adapter, log *zap.Logger) *Renderer {
	return &Renderer{book: book, storage: adapter, log: log}
}

// Kind reports which pipeline this is.
func (r *Renderer) Kind() format.Kind { return format.FlattenedHTML }

// Open fetches and decodes the container. Errors wrap ErrFetchFailed,
// ErrDecodeFailed or ErrEmptyContent; there is no partial result.
func (r *Renderer) Open(ctx context.Context) error {
	reader, err := r.storage.Get(ctx, r.book.Path)
	if err != nil {
		return fmt.Errorf("%w: %v", render.ErrFetchFailed, err)
	}
	data, err := io.ReadAll(reader)
	reader.Close()
	if err != nil {
		return fmt.Errorf("%w: %v", render.ErrFetchFailed, err)
	}

	// A mislabeled file of a known other type fails fast with a clearer
	// message than the container parser would produce.
	if kind, _ := filetype.Match(data); kind != filetype.Unknown {
		switch kind.Extension {
		case "mobi", "prc":
			// expected
		default:
			return fmt.Errorf("%w: container is %s, not mobi", render.ErrDecodeFailed, kind.Extension)
		}
	}

	doc, err := mobi.Decode(data)
	if err != nil {
		return fmt.Errorf("%w: %v", render.ErrDecodeFailed, err)
	}
	if len(doc.Fragments) == 0 {
		return render.ErrEmptyContent
	}

	var sb strings.Builder
	for _, frag := range doc.Fragments {
		sb.WriteString(frag.HTML)
	}

	r.mu.Lock()
	// NFC normalization avoids detached-accent rendering artifacts in
	// non-ASCII text.
	r.document = norm.NFC.String(sb.String())
	r.fragments = doc.Fragments
	r.mu.Unlock()

	r.log.Debug("flattened document loaded",
		zap.String("book_id", r.book.ID),
		zap.Int("fragments", len(doc.Fragments)),
		zap.Int("bytes", len(r.document)))
	return nil
}

// Content returns the concatenated, normalized document.
func (r *Renderer) Content(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.document == "" {
		return "", fmt.Errorf("document not loaded")
	}
	return r.document, nil
}

// Fragments returns the decoded fragments in reading order.
func (r *Renderer) Fragments() []mobi.Fragment {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fragments
}

// Close releases the decoded document.
func (r *Renderer) Close() error {
	r.mu.Lock()
	r.document = ""
	r.fragments = nil
	r.mu.Unlock()
	return nil
}
