package api

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"liquidreader/internal/book"
	"liquidreader/internal/progress"
	"liquidreader/internal/session"
	"liquidreader/internal/storage"
	"liquidreader/pkg/types"
)

const testContainer = `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles><rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/></rootfiles>
</container>`

const testOPF = `<?xml version="1.0"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0">
  <metadata><title>Fixture</title></metadata>
  <manifest>
    <item id="ch1" href="ch1.xhtml" media-type="application/xhtml+xml"/>
    <item id="ch2" href="ch2.xhtml" media-type="application/xhtml+xml"/>
  </manifest>
  <spine>
    <itemref idref="ch1"/>
    <itemref idref="ch2"/>
  </spine>
</package>`

func epubBytes(t *testing.T) []byte {
	t.Helper()
	files := map[string]string{
		"META-INF/container.xml": testContainer,
		"OEBPS/content.opf":      testOPF,
		"OEBPS/ch1.xhtml":        `<html><body><p>` + strings.Repeat("a", 50) + `</p></body></html>`,
		"OEBPS/ch2.xhtml":        `<html><body><p>` + strings.Repeat("b", 50) + `</p></body></html>`,
	}
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// testServer wires the full API the way cmd/server does.
func testServer(t *testing.T, authToken string) (*httptest.Server, book.Repository, storage.Adapter) {
	t.Helper()

	adapter, err := storage.NewLocalAdapter(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	repo := book.NewStorageRepository(adapter)
	gateway := progress.NewLocalGateway(repo)
	manager := session.NewManager(gateway, adapter, types.ReaderConfig{PersistTimeout: 5},
		"http://localhost:8080", zap.NewNop())
	t.Cleanup(manager.Shutdown)

	bookHandler := NewBookHandler(repo, adapter, zap.NewNop())
	sessionHandler := NewSessionHandler(manager, zap.NewNop())

	apiMux := http.NewServeMux()
	apiMux.HandleFunc("/api/v1/books", bookHandler.ListBooks)
	apiMux.HandleFunc("/api/v1/books/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/progress") {
			bookHandler.SaveProgress(w, r)
		} else if r.Method == http.MethodDelete {
			bookHandler.DeleteBook(w, r)
		} else {
			bookHandler.GetBook(w, r)
		}
	})
	apiMux.HandleFunc("/api/v1/sessions", sessionHandler.OpenSession)
	apiMux.HandleFunc("/api/v1/sessions/", sessionHandler.Route)
	apiMux.HandleFunc("/uploads/", bookHandler.ServeFile)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/", RequireToken(authToken, apiMux))
	mux.Handle("/uploads/", RequireToken(authToken, apiMux))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, repo, adapter
}

func seedEpub(t *testing.T, repo book.Repository, adapter storage.Adapter, id string) {
	t.Helper()
	ctx := context.Background()
	path := "books/" + id + "/original.epub"
	if err := adapter.Put(ctx, path, bytes.NewReader(epubBytes(t))); err != nil {
		t.Fatal(err)
	}
	if err := repo.SaveBook(ctx, &types.Book{
		ID: id, Title: "Fixture", OriginalName: "fixture.epub",
		Path: path, Format: "epub", UploadedAt: time.Now(),
	}); err != nil {
		t.Fatal(err)
	}
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeView(t *testing.T, resp *http.Response) session.View {
	t.Helper()
	defer resp.Body.Close()
	var v session.View
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	return v
}

func TestSessionLifecycle(t *testing.T) {
	srv, repo, adapter := testServer(t, "")
	seedEpub(t, repo, adapter, "b1")

	// Open
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions", map[string]string{"book_id": "b1"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("open status = %d", resp.StatusCode)
	}
	v := decodeView(t, resp)
	if v.ID == "" || v.BookID != "b1" || v.ViewKind != "reflowable" {
		t.Fatalf("view = %+v", v)
	}

	// Wait for the index, then report a jump to the second chapter.
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/sessions/"+v.ID, nil)
		got := decodeView(t, resp)
		if got.State == "ready" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("session never became ready, state %q", got.State)
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions/"+v.ID+"/location",
		map[string]string{"location": "OEBPS/ch2.xhtml"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("location status = %d", resp.StatusCode)
	}
	updated := decodeView(t, resp)
	if updated.Location != "OEBPS/ch2.xhtml" {
		t.Errorf("location = %q", updated.Location)
	}
	if updated.Progress == nil || *updated.Progress != 50 {
		t.Errorf("progress = %v, want 50", updated.Progress)
	}

	// Content of the current chapter.
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/sessions/"+v.ID+"/content", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("content status = %d", resp.StatusCode)
	}
	content := new(bytes.Buffer)
	content.ReadFrom(resp.Body)
	resp.Body.Close()
	if !strings.Contains(content.String(), strings.Repeat("b", 50)) {
		t.Errorf("content = %q", content.String())
	}

	// Close, then the session is gone.
	resp = doJSON(t, http.MethodDelete, srv.URL+"/api/v1/sessions/"+v.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("close status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/sessions/"+v.ID, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after close = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestRemoteGatewayExpirySurfacedOnView(t *testing.T) {
	adapter, err := storage.NewLocalAdapter(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	path := "books/b1/original.epub"
	if err := adapter.Put(ctx, path, bytes.NewReader(epubBytes(t))); err != nil {
		t.Fatal(err)
	}

	// A shelf backend that knows the book but rejects every save with
	// an expired credential.
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(&types.Book{
			ID: "b1", Title: "Fixture", Path: path, Format: "epub",
		})
	}))
	t.Cleanup(backend.Close)

	gateway := progress.NewHTTPGateway(backend.URL, progress.NewSessionContext("stale"))
	manager := session.NewManager(gateway, adapter, types.ReaderConfig{PersistTimeout: 5},
		"http://localhost:8080", zap.NewNop())
	t.Cleanup(manager.Shutdown)
	sessionHandler := NewSessionHandler(manager, zap.NewNop())

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/sessions", sessionHandler.OpenSession)
	mux.HandleFunc("/api/v1/sessions/", sessionHandler.Route)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions", map[string]string{"book_id": "b1"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("open status = %d", resp.StatusCode)
	}
	v := decodeView(t, resp)

	deadline := time.Now().Add(5 * time.Second)
	for {
		resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/sessions/"+v.ID, nil)
		got := decodeView(t, resp)
		if got.State == "ready" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("session never became ready, state %q", got.State)
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions/"+v.ID+"/location",
		map[string]string{"location": "OEBPS/ch2.xhtml"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("location status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	// The rejected fire-and-forget save must show up on a later view.
	for {
		resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/sessions/"+v.ID, nil)
		got := decodeView(t, resp)
		if got.AuthExpired {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("auth_expired never surfaced on the session view")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestOpenSessionUnknownBook(t *testing.T) {
	srv, _, _ := testServer(t, "")
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions", map[string]string{"book_id": "nope"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestReportLocationUnknownToken(t *testing.T) {
	srv, repo, adapter := testServer(t, "")
	seedEpub(t, repo, adapter, "b1")

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions", map[string]string{"book_id": "b1"})
	v := decodeView(t, resp)

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions/"+v.ID+"/location",
		map[string]string{"location": "OEBPS/not-there.xhtml"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestBookEndpoints(t *testing.T) {
	srv, repo, adapter := testServer(t, "")
	seedEpub(t, repo, adapter, "b1")

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/books", nil)
	var books []*types.Book
	if err := json.NewDecoder(resp.Body).Decode(&books); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if len(books) != 1 || books[0].ID != "b1" {
		t.Fatalf("books = %+v", books)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/books/b1", nil)
	var b types.Book
	if err := json.NewDecoder(resp.Body).Decode(&b); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if b.Title != "Fixture" {
		t.Errorf("book = %+v", b)
	}
}

func TestSaveProgressEndpoint(t *testing.T) {
	srv, repo, adapter := testServer(t, "")
	seedEpub(t, repo, adapter, "b1")

	save := func(upd types.ProgressUpdate) (int, bool) {
		resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/books/b1/progress", upd)
		defer resp.Body.Close()
		var out struct {
			Applied bool `json:"applied"`
		}
		json.NewDecoder(resp.Body).Decode(&out)
		return resp.StatusCode, out.Applied
	}

	if status, applied := save(types.ProgressUpdate{Progress: 50, LastLocation: "ch2", Seq: 2}); status != http.StatusOK || !applied {
		t.Fatalf("first save: status=%d applied=%v", status, applied)
	}

	// A stale fire-and-forget completion must not regress the record.
	if status, applied := save(types.ProgressUpdate{Progress: 25, LastLocation: "ch1", Seq: 1}); status != http.StatusOK || applied {
		t.Fatalf("stale save: status=%d applied=%v", status, applied)
	}

	got, err := repo.GetBook(context.Background(), "b1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Progress == nil || *got.Progress != 50 || got.LastLocation != "ch2" {
		t.Errorf("book after saves = %+v", got)
	}

	// Validation.
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/books/b1/progress",
		types.ProgressUpdate{Progress: 150, LastLocation: "ch2", Seq: 3})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("out-of-range progress accepted: %d", resp.StatusCode)
	}
}

func TestServeFileSniffsContentType(t *testing.T) {
	srv, repo, adapter := testServer(t, "")
	seedEpub(t, repo, adapter, "b1")

	resp, err := http.Get(srv.URL + "/uploads/books/b1/original.epub")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	// An EPUB is a zip container; the sniffer sees the zip signature.
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "zip") {
		t.Errorf("content type = %q", ct)
	}

	resp2, err := http.Get(srv.URL + "/uploads/books/none/missing.bin")
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Errorf("missing file status = %d", resp2.StatusCode)
	}
}

func TestRequireToken(t *testing.T) {
	srv, repo, adapter := testServer(t, "sekrit")
	seedEpub(t, repo, adapter, "b1")

	resp, err := http.Get(srv.URL + "/api/v1/books")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/books", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("authenticated status = %d", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/api/v1/books", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong-token status = %d", resp.StatusCode)
	}

	// Browser-issued fetches pass the credential as a query parameter;
	// the uploads path must work without an Authorization header.
	resp, err = http.Get(srv.URL + "/uploads/books/b1/original.epub?access_token=sekrit")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("query-credential upload status = %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/uploads/books/b1/original.epub?access_token=wrong")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong query-credential status = %d", resp.StatusCode)
	}
}
