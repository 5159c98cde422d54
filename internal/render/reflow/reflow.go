// Package reflow implements the EPUB rendering pipeline: reflowable XHTML
// content rendered in a paginated surface, with a location index built
// asynchronously so navigation events can be normalized to a percentage.
package reflow

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"go.uber.org/zap"

	"liquidreader/internal/format"
	"liquidreader/internal/position"
	"liquidreader/internal/render"
	"liquidreader/internal/storage"
	"liquidreader/pkg/types"
)

// Renderer is the reflowable pipeline for one reading session. It is not
// safe for concurrent use beyond the documented methods: NavigateTo,
// Index, IndexState and Content may be called while the index builds.
type Renderer struct {
	book    *types.Book
	storage storage.Adapter
	log     *zap.Logger

	files map[string]*zip.File
	spine []spineEntry
	byRef map[string]spineEntry // spine lookup by zip-root-relative href
	toc   []types.TocEntry

	mu      sync.Mutex
	state   render.IndexState
	index   *position.Index
	current string
	handler render.LocationHandler
	closed  bool

	ready chan struct{} // closed when the index reaches Ready or Failed
}

// New creates a reflowable renderer for the given book.
func New(book *types.Book, adapter storage.Adapter, log *zap.Logger) *Renderer {
	return &Renderer{
		book:    book,
		storage: adapter,
		log:     log,
		ready:   make(chan struct{}),
	}
}

// Kind reports which pipeline this is.
func (r *Renderer) Kind() format.Kind { return format.Reflowable }

// Open fetches the archive, parses its structure and starts building the
// location index in the background. A malformed archive fails Open with a
// terminal ErrRenderInit; indexing failures do not.
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

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("%w: not a zip archive: %v", render.ErrRenderInit, err)
	}

	r.files = make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		r.files[path.Clean(f.Name)] = f
	}

	if err := r.parseStructure(); err != nil {
		return fmt.Errorf("%w: %v", render.ErrRenderInit, err)
	}

	r.mu.Lock()
	r.state = render.IndexBuilding
	r.mu.Unlock()
	go r.buildIndex()

	return nil
}

// parseStructure resolves container.xml, the OPF and the TOC.
func (r *Renderer) parseStructure() error {
	containerData, err := r.readFile(containerFile)
	if err != nil {
		return err
	}
	opfPath, err := parseContainer(containerData)
	if err != nil {
		return err
	}

	opfData, err := r.readFile(path.Clean(opfPath))
	if err != nil {
		return err
	}
	pkg, err := parseOPF(opfData)
	if err != nil {
		return err
	}
	opfDir := path.Dir(opfPath)

	manifest := make(map[string]opfItem, len(pkg.Manifest.Items))
	for _, item := range pkg.Manifest.Items {
		manifest[item.ID] = item
	}

	r.byRef = make(map[string]spineEntry)
	for _, ref := range pkg.Spine.ItemRefs {
		item, ok := manifest[ref.IDRef]
		if !ok {
			continue
		}
		entry := spineEntry{IDRef: ref.IDRef, Href: resolveHref(opfDir, item.Href)}
		r.spine = append(r.spine, entry)
		r.byRef[entry.Href] = entry
	}
	if len(r.spine) == 0 {
		return fmt.Errorf("no readable spine items")
	}

	r.toc = r.parseTOC(pkg, manifest, opfDir)
	return nil
}

// parseTOC prefers the EPUB 3 nav document and falls back to the EPUB 2
// NCX. A book without either still renders; it just has no sidebar
// navigation.
func (r *Renderer) parseTOC(pkg *opfPackage, manifest map[string]opfItem, opfDir string) []types.TocEntry {
	for _, item := range manifest {
		if !strings.Contains(item.Properties, "nav") {
			continue
		}
		navPath := resolveHref(opfDir, item.Href)
		data, err := r.readFile(navPath)
		if err != nil {
			continue
		}
		entries, err := parseNavTOC(data, path.Dir(navPath))
		if err == nil && len(entries) > 0 {
			for i := range entries {
				entries[i].ID = fmt.Sprintf("toc-%03d", i+1)
			}
			return entries
		}
	}

	if ncxItem, ok := manifest[pkg.Spine.Toc]; ok {
		ncxPath := resolveHref(opfDir, ncxItem.Href)
		if data, err := r.readFile(ncxPath); err == nil {
			if entries, err := parseNCX(data, path.Dir(ncxPath)); err == nil {
				return entries
			}
		}
	}

	r.log.Debug("no table of contents found", zap.String("book_id", r.book.ID))
	return nil
}

// buildIndex walks the full spine, measuring each item's text so every
// location token maps to a fraction of the whole document. For large books
// this takes a while; progress computation stays unavailable until done.
func (r *Renderer) buildIndex() {
	lengths := make([]int, len(r.spine))
	total := 0
	for i, entry := range r.spine {
		data, err := r.readFile(entry.Href)
		if err != nil {
			r.log.Warn("spine item unreadable during indexing",
				zap.String("href", entry.Href), zap.Error(err))
			continue
		}
		lengths[i] = textLength(data)
		total += lengths[i]
	}

	entries := make([]position.Entry, len(r.spine))
	before := 0
	for i, entry := range r.spine {
		var fraction float64
		if total > 0 {
			fraction = float64(before) / float64(total)
		} else {
			// Degenerate book with no measurable text: space the
			// spine evenly.
			fraction = float64(i) / float64(len(r.spine))
		}
		entries[i] = position.Entry{Token: entry.Href, Fraction: fraction}
		before += lengths[i]
	}

	r.mu.Lock()
	r.index = position.NewIndex(entries)
	r.state = render.IndexReady
	r.mu.Unlock()
	close(r.ready)

	r.log.Debug("location index ready",
		zap.String("book_id", r.book.ID),
		zap.Int("locations", len(entries)),
		zap.Int("chars", total))
}

// NavigateTo moves the visible position to the given token and fires the
// location handler. It works before the index is ready; only progress
// computation waits for Ready.
func (r *Renderer) NavigateTo(token string) error {
	h := href(token)
	if _, ok := r.byRef[h]; !ok {
		return fmt.Errorf("%w: %s", render.ErrUnknownLocation, token)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return fmt.Errorf("renderer closed")
	}
	r.current = token
	handler := r.handler
	r.mu.Unlock()

	if handler != nil {
		handler(render.Location{Token: token})
	}
	return nil
}

// OnLocationChanged registers the handler for navigation events.
func (r *Renderer) OnLocationChanged(fn render.LocationHandler) {
	r.mu.Lock()
	r.handler = fn
	r.mu.Unlock()
}

// TableOfContents returns the document's navigation entries.
func (r *Renderer) TableOfContents() []types.TocEntry { return r.toc }

// Index returns the location index and whether it is ready.
func (r *Renderer) Index() (*position.Index, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.index, r.state == render.IndexReady
}

// IndexState reports the index lifecycle state.
func (r *Renderer) IndexState() render.IndexState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Ready is closed when the index build finishes.
func (r *Renderer) Ready() <-chan struct{} { return r.ready }

// FirstLocation returns the token of the document's beginning.
func (r *Renderer) FirstLocation() string { return r.spine[0].Href }

// CurrentLocation returns the last navigated token.
func (r *Renderer) CurrentLocation() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Content returns the body markup of the current chapter (or of the
// document's beginning before any navigation).
func (r *Renderer) Content(ctx context.Context) (string, error) {
	token := r.CurrentLocation()
	if token == "" {
		token = r.FirstLocation()
	}
	data, err := r.readFile(href(token))
	if err != nil {
		return "", err
	}
	return bodyHTML(data)
}

// Close stops event delivery. The index goroutine finishes on its own.
func (r *Renderer) Close() error {
	r.mu.Lock()
	r.closed = true
	r.handler = nil
	r.mu.Unlock()
	return nil
}

func (r *Renderer) readFile(name string) ([]byte, error) {
	f, ok := r.files[name]
	if !ok {
		return nil, fmt.Errorf("file not in archive: %s", name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// href strips the fragment part of a token.
func href(token string) string {
	if i := strings.IndexByte(token, '#'); i >= 0 {
		return token[:i]
	}
	return token
}
