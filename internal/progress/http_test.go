package progress

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"liquidreader/pkg/types"
)

func TestHTTPGatewayBook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/books/b1" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-123" {
			t.Errorf("authorization = %q", got)
		}
		json.NewEncoder(w).Encode(&types.Book{ID: "b1", Title: "Remote Book"})
	}))
	defer srv.Close()

	g := NewHTTPGateway(srv.URL, NewSessionContext("tok-123"))
	book, err := g.Book(context.Background(), "b1")
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	if book.ID != "b1" || book.Title != "Remote Book" {
		t.Errorf("book = %+v", book)
	}
}

func TestHTTPGatewaySaveProgress(t *testing.T) {
	var received types.ProgressUpdate
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/books/b1/progress" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	g := NewHTTPGateway(srv.URL, NewSessionContext("tok-123"))
	err := g.SaveProgress(context.Background(), "b1", types.ProgressUpdate{
		Progress: 42, LastLocation: "ch3.xhtml", Seq: 7,
	})
	if err != nil {
		t.Fatalf("SaveProgress: %v", err)
	}
	if received.Progress != 42 || received.LastLocation != "ch3.xhtml" || received.Seq != 7 {
		t.Errorf("server received %+v", received)
	}
}

func TestHTTPGatewayAuthExpired(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		g := NewHTTPGateway(srv.URL, NewSessionContext("expired"))
		err := g.SaveProgress(context.Background(), "b1", types.ProgressUpdate{Seq: 1})
		if !errors.Is(err, ErrSessionAuthExpired) {
			t.Errorf("status %d: SaveProgress = %v, want ErrSessionAuthExpired", status, err)
		}
		if _, err := g.Book(context.Background(), "b1"); !errors.Is(err, ErrSessionAuthExpired) {
			t.Errorf("status %d: Book = %v, want ErrSessionAuthExpired", status, err)
		}
		srv.Close()
	}
}

func TestHTTPGatewayServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	g := NewHTTPGateway(srv.URL, nil)
	err := g.SaveProgress(context.Background(), "b1", types.ProgressUpdate{Seq: 1})
	if !errors.Is(err, ErrPersistenceFailed) {
		t.Errorf("SaveProgress = %v, want ErrPersistenceFailed", err)
	}
}

func TestHTTPGatewayUnreachable(t *testing.T) {
	g := NewHTTPGateway("http://127.0.0.1:1", nil)
	err := g.SaveProgress(context.Background(), "b1", types.ProgressUpdate{Seq: 1})
	if !errors.Is(err, ErrPersistenceFailed) {
		t.Errorf("SaveProgress = %v, want ErrPersistenceFailed", err)
	}
}

func TestSessionContextInvalidate(t *testing.T) {
	var sawAuth []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawAuth = append(sawAuth, r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(&types.Book{ID: "b1"})
	}))
	defer srv.Close()

	sc := NewSessionContext("tok-123")
	g := NewHTTPGateway(srv.URL, sc)

	if _, err := g.Book(context.Background(), "b1"); err != nil {
		t.Fatal(err)
	}
	sc.Invalidate()
	if _, err := g.Book(context.Background(), "b1"); err != nil {
		t.Fatal(err)
	}

	if len(sawAuth) != 2 || sawAuth[0] != "Bearer tok-123" || sawAuth[1] != "" {
		t.Errorf("authorization headers = %v", sawAuth)
	}
}
