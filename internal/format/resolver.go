package format

import (
	"path/filepath"
	"strings"
)

// Kind identifies which rendering pipeline handles a file.
type Kind int

const (
	// Unsupported is a defined outcome, not an error: the file can only
	// be offered as a raw download.
	Unsupported Kind = iota

	// Reflowable is paginated, reflowable markup (EPUB).
	Reflowable

	// FixedPage is a fixed-layout document delegated to the browser's
	// native viewer (PDF).
	FixedPage

	// FlattenedHTML is a binary container decoded and rendered as one
	// continuous flow (MOBI/PRC).
	FlattenedHTML
)

// String returns the kind name used in API responses.
func (k Kind) String() string {
	switch k {
	case Reflowable:
		return "reflowable"
	case FixedPage:
		return "fixed_page"
	case FlattenedHTML:
		return "flattened_html"
	default:
		return "unsupported"
	}
}

// Resolve maps a file name to its rendering pipeline. The decision is a
// pure function of the lowercase file extension; unknown extensions
// resolve to Unsupported rather than failing.
func Resolve(fileName string) Kind {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(fileName)), ".")
	switch ext {
	case "epub":
		return Reflowable
	case "pdf":
		return FixedPage
	case "mobi", "prc":
		return FlattenedHTML
	default:
		return Unsupported
	}
}
