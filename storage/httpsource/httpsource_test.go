package httpsource

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"everstone.io/anchor/storage"
)

func TestFetchPathAndCacheBuster(t *testing.T) {
	content := []byte("bundle bytes")
	var gotPath, gotBuster string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotBuster = r.URL.Query().Get("t")
		w.Write(content)
	}))
	defer srv.Close()

	fixed := time.Unix(1700000000, 42)
	src := New(srv.URL + "/api/memorials")
	src.now = func() time.Time { return fixed }

	b, err := src.Fetch(context.Background(), "claude-shannon")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(b) != string(content) {
		t.Fatalf("got %q, want %q", b, content)
	}
	if gotPath != "/api/memorials/claude-shannon/download" {
		t.Fatalf("path = %q", gotPath)
	}
	if want := "1700000000000000042"; gotBuster != want {
		t.Fatalf("cache buster = %q, want %q", gotBuster, want)
	}
}

func TestFetchBusterVariesPerRequest(t *testing.T) {
	busters := make(map[string]bool)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		busters[r.URL.Query().Get("t")] = true
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	src := New(srv.URL)
	for i := 0; i < 3; i++ {
		if _, err := src.Fetch(context.Background(), "ref"); err != nil {
			t.Fatalf("Fetch: %v", err)
		}
	}
	if len(busters) != 3 {
		t.Fatalf("got %d distinct cache busters, want 3", len(busters))
	}
}

func TestFetchNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(http.NotFound))
	defer srv.Close()

	_, err := New(srv.URL).Fetch(context.Background(), "missing")
	if !storage.IsNotFound(err) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestFetchTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	srv.Close() // connection refused from here on

	_, err := New(srv.URL).Fetch(context.Background(), "ref")
	if !errors.Is(err, storage.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestFetchNoEndpoint(t *testing.T) {
	_, err := (&Source{}).Fetch(context.Background(), "ref")
	if !errors.Is(err, storage.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}
