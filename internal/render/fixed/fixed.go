// Package fixed implements the fixed-layout (PDF) pipeline. Rendering is
// delegated entirely to the browser-native viewer via a direct file URL;
// the pipeline produces no location events, so progress for fixed-layout
// documents stays permanently unavailable. That is a scope boundary, not
// a defect.
package fixed

import (
	"context"
	"fmt"
	"strings"

	"liquidreader/internal/format"
	"liquidreader/internal/render"
	"liquidreader/internal/storage"
	"liquidreader/pkg/types"
)

// Renderer exposes the direct URL of a fixed-layout document.
type Renderer struct {
	book    *types.Book
	storage storage.Adapter
	baseURL string
}

// New creates a fixed-page renderer for the given book.
func New(book *types.Book, adapter storage.Adapter, baseURL string) *Renderer {
	return &Renderer{book: book, storage: adapter, baseURL: strings.TrimRight(baseURL, "/")}
}

// Kind reports which pipeline this is.
func (r *Renderer) Kind() format.Kind { return format.FixedPage }

// Open verifies the file exists; the actual rendering happens client-side.
func (r *Renderer) Open(ctx context.Context) error {
	exists, err := r.storage.Exists(ctx, r.book.Path)
	if err != nil {
		return fmt.Errorf("%w: %v", render.ErrFetchFailed, err)
	}
	if !exists {
		return fmt.Errorf("%w: file missing: %s", render.ErrRenderInit, r.book.Path)
	}
	return nil
}

// ViewerURL returns the URL handed to the browser-native viewer.
func (r *Renderer) ViewerURL() string {
	return fmt.Sprintf("%s/uploads/%s", r.baseURL, r.book.Path)
}

// Close releases nothing; the pipeline holds no resources.
func (r *Renderer) Close() error { return nil }
