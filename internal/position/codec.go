// Package position converts opaque, format-specific location tokens into
// normalized progress percentages. An Index is built once per reading
// session by the reflowable pipeline; until it exists, every conversion
// reports unavailable, which callers must keep distinct from 0%.
package position

import (
	"math"
	"sort"
	"strings"
)

// Entry associates a location token with its fractional position in the
// document, in [0,1].
type Entry struct {
	Token    string
	Fraction float64
}

// Index is a precomputed token-to-fraction mapping. A nil *Index means the
// index has not been built yet.
type Index struct {
	entries []Entry
	byHref  map[string]float64
}

// NewIndex builds an Index from entries ordered by document position.
func NewIndex(entries []Entry) *Index {
	idx := &Index{
		entries: make([]Entry, len(entries)),
		byHref:  make(map[string]float64, len(entries)),
	}
	copy(idx.entries, entries)
	sort.SliceStable(idx.entries, func(i, j int) bool {
		return idx.entries[i].Fraction < idx.entries[j].Fraction
	})
	for _, e := range idx.entries {
		idx.byHref[href(e.Token)] = e.Fraction
	}
	return idx
}

// Len returns the number of indexed locations.
func (x *Index) Len() int {
	if x == nil {
		return 0
	}
	return len(x.entries)
}

// Fraction resolves a token to its fractional position. Tokens may carry a
// fragment suffix ("chapter-3.xhtml#p10"); the fragment addresses a point
// inside the indexed unit and resolves to the unit's base fraction.
func (x *Index) Fraction(token string) (float64, bool) {
	if x == nil {
		return 0, false
	}
	f, ok := x.byHref[href(token)]
	return f, ok
}

// Percentage converts a token to an integer percentage in [0,100].
// The second return value is false when the conversion is unavailable:
// either the index is not built yet (nil receiver) or the token does not
// belong to this document.
func (x *Index) Percentage(token string) (int, bool) {
	f, ok := x.Fraction(token)
	if !ok {
		return 0, false
	}
	return clamp(int(math.Round(f * 100))), true
}

func clamp(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// href strips the fragment part of a token.
func href(token string) string {
	if i := strings.IndexByte(token, '#'); i >= 0 {
		return token[:i]
	}
	return token
}
