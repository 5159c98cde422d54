package types

import "time"

// Book is the metadata record for an uploaded file. Format and Path are
// fixed at upload time; LastLocation, Progress and ProgressSeq are mutated
// only through progress saves issued by an open reading session.
type Book struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Author       string    `json:"author,omitempty"`
	OriginalName string    `json:"original_name"`
	Path         string    `json:"path"`   // storage-relative location of the raw file
	Format       string    `json:"format"` // "epub", "pdf", "mobi", "prc"
	Size         int64     `json:"size"`
	UploadedAt   time.Time `json:"uploaded_at"`

	// LastLocation is an opaque, format-specific position token. Empty
	// until the first navigation event is persisted.
	LastLocation string `json:"last_location,omitempty"`

	// Progress is the last persisted percentage in [0,100]. It tracks the
	// last observed position, not a high-water mark: navigating backward
	// makes it decrease. Nil until a position has ever been saved.
	Progress *int `json:"progress,omitempty"`

	// ProgressSeq is the logical clock of the last accepted progress save.
	// Saves carrying a lower sequence number are stale completions of
	// fire-and-forget calls and are ignored.
	ProgressSeq uint64 `json:"progress_seq,omitempty"`

	LastRead time.Time `json:"last_read,omitempty"`
}

// ProgressUpdate is the payload of a progress save.
type ProgressUpdate struct {
	Progress     int    `json:"progress"`
	LastLocation string `json:"last_location"`
	Seq          uint64 `json:"seq"`
}

// TocEntry is one entry of a book's table of contents. The Target is a
// location token understood by the pipeline that produced the entry.
type TocEntry struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Target string `json:"target"`
}
