package format

import "testing"

func TestResolve(t *testing.T) {
	tests := []struct {
		name     string
		fileName string
		want     Kind
	}{
		{"epub", "books/abc/war-and-peace.epub", Reflowable},
		{"epub uppercase", "NOVEL.EPUB", Reflowable},
		{"pdf", "manual.pdf", FixedPage},
		{"mobi", "old-book.mobi", FlattenedHTML},
		{"prc", "palm-era.prc", FlattenedHTML},
		{"prc mixed case", "Palm.PrC", FlattenedHTML},
		{"unknown extension", "notes.txt", Unsupported},
		{"zip is not a book", "archive.zip", Unsupported},
		{"no extension", "README", Unsupported},
		{"empty", "", Unsupported},
		{"extension only counts at the end", "fake.epub.txt", Unsupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Resolve(tt.fileName); got != tt.want {
				t.Errorf("Resolve(%q) = %v, want %v", tt.fileName, got, tt.want)
			}
		})
	}
}

func TestKindString(t *testing.T) {
	if got := Reflowable.String(); got != "reflowable" {
		t.Errorf("Reflowable.String() = %q", got)
	}
	if got := FixedPage.String(); got != "fixed_page" {
		t.Errorf("FixedPage.String() = %q", got)
	}
	if got := FlattenedHTML.String(); got != "flattened_html" {
		t.Errorf("FlattenedHTML.String() = %q", got)
	}
	if got := Unsupported.String(); got != "unsupported" {
		t.Errorf("Unsupported.String() = %q", got)
	}
	if got := Kind(99).String(); got != "unsupported" {
		t.Errorf("Kind(99).String() = %q", got)
	}
}
