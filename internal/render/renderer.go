// Package render defines the contract shared by the three rendering
// pipelines: reflowable (EPUB), fixed-page (PDF) and flattened-HTML
// (MOBI/PRC). A pipeline is owned by exactly one reading session.
package render

import (
	"context"
	"errors"

	"liquidreader/internal/format"
	"liquidreader/internal/position"
	"liquidreader/pkg/types"
)

var (
	// ErrRenderInit indicates a malformed or unreadable file. Terminal
	// per session; malformed input will not self-correct, so no retry.
	ErrRenderInit = errors.New("render: failed to initialize")

	// ErrFetchFailed indicates the storage backend was unreachable.
	ErrFetchFailed = errors.New("render: fetch failed")

	// ErrDecodeFailed indicates a malformed container or an unsupported
	// internal layout.
	ErrDecodeFailed = errors.New("render: decode failed")

	// ErrEmptyContent indicates the container decoded cleanly but
	// yielded zero fragments.
	ErrEmptyContent = errors.New("render: empty content")

	// ErrNoPositionTracking is returned when a location is reported to a
	// pipeline that never produces positions (fixed-page, flattened).
	ErrNoPositionTracking = errors.New("render: pipeline has no position tracking")

	// ErrUnknownLocation is returned when a token does not address any
	// part of the open document.
	ErrUnknownLocation = errors.New("render: unknown location token")
)

// IndexState is the location-index lifecycle of a reflowable pipeline.
// The Indexing to Ready transition is one-way and happens exactly once per
// session.
type IndexState int

const (
	IndexUninitialized IndexState = iota
	IndexBuilding
	IndexReady
	IndexFailed
)

// String returns the state name used in API responses.
func (s IndexState) String() string {
	switch s {
	case IndexBuilding:
		return "indexing"
	case IndexReady:
		return "ready"
	case IndexFailed:
		return "failed"
	default:
		return "uninitialized"
	}
}

// Location is a navigation event payload.
type Location struct {
	Token string
}

// LocationHandler receives location-changed events from a Navigator.
type LocationHandler func(Location)

// Pipeline is the minimal lifecycle every rendering pipeline implements.
type Pipeline interface {
	// Kind reports which pipeline this is.
	Kind() format.Kind

	// Open loads and validates the document. Errors wrap ErrRenderInit,
	// ErrFetchFailed, ErrDecodeFailed or ErrEmptyContent.
	Open(ctx context.Context) error

	// Close releases resources. After Close no events are delivered.
	Close() error
}

// Navigator is implemented by pipelines that track positions. Only the
// reflowable pipeline does.
type Navigator interface {
	// NavigateTo moves the visible position to the given token and fires
	// the location handler. Navigation succeeds independently of the
	// location index being ready.
	NavigateTo(token string) error

	// OnLocationChanged registers the single handler for navigation
	// events. Must be called before the first NavigateTo.
	OnLocationChanged(LocationHandler)

	// TableOfContents returns the document's navigation entries.
	TableOfContents() []types.TocEntry

	// Index returns the location index and whether it is ready.
	Index() (*position.Index, bool)

	// IndexState reports the index lifecycle state.
	IndexState() IndexState

	// FirstLocation returns the token of the document's beginning.
	FirstLocation() string
}

// ContentProvider is implemented by pipelines that render markup
// server-side (flattened document, reflowable chapter content).
type ContentProvider interface {
	Content(ctx context.Context) (string, error)
}

// ViewerURLProvider is implemented by the fixed-page pipeline, which
// delegates rendering entirely to the browser-native viewer.
type ViewerURLProvider interface {
	ViewerURL() string
}
