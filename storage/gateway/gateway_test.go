package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"everstone.io/anchor/cidutil"
	"everstone.io/anchor/storage"
)

func TestFetchFirstGatewayWins(t *testing.T) {
	content := []byte("bundle bytes")
	ref := cidutil.CIDv1RawSHA256(content)

	var secondHit bool
	first := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/"+ref {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Write(content)
	}))
	defer first.Close()
	second := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secondHit = true
		w.Write([]byte("wrong bytes"))
	}))
	defer second.Close()

	src := New(first.URL, second.URL)
	got, served, err := src.FetchProvenance(context.Background(), ref)
	if err != nil {
		t.Fatalf("FetchProvenance: %v", err)
	}
	if string(got) != string(content) {
		t.Fatalf("got %q, want %q", got, content)
	}
	if served != first.URL {
		t.Fatalf("served by %q, want %q", served, first.URL)
	}
	if secondHit {
		t.Fatal("second gateway contacted after first success")
	}
}

func TestFetchFallsBackPastFailures(t *testing.T) {
	content := []byte("bundle bytes")
	ref := cidutil.CIDv1RawSHA256(content)

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer down.Close()
	missing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer missing.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(content)
	}))
	defer good.Close()

	src := New(down.URL, missing.URL, good.URL)
	got, served, err := src.FetchProvenance(context.Background(), ref)
	if err != nil {
		t.Fatalf("FetchProvenance: %v", err)
	}
	if string(got) != string(content) {
		t.Fatalf("got %q, want %q", got, content)
	}
	if served != good.URL {
		t.Fatalf("served by %q, want %q", served, good.URL)
	}
}

func TestFetchTimeoutPerAttempt(t *testing.T) {
	content := []byte("bundle bytes")
	ref := cidutil.CIDv1RawSHA256(content)

	stalled := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer stalled.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(content)
	}))
	defer good.Close()

	src := New(stalled.URL, good.URL)
	src.AttemptTimeout = 50 * time.Millisecond

	start := time.Now()
	got, err := src.Fetch(context.Background(), ref)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(got) != string(content) {
		t.Fatalf("got %q, want %q", got, content)
	}
	if elapsed := time.Since(start); elapsed >= 300*time.Millisecond {
		t.Fatalf("stalled gateway was not cut off (%v)", elapsed)
	}
}

func TestFetchAllGatewaysFail(t *testing.T) {
	ref := cidutil.CIDv1RawSHA256([]byte("x"))

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer down.Close()

	src := New(down.URL, down.URL+"/mirror")
	_, err := src.Fetch(context.Background(), ref)
	if !errors.Is(err, storage.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	// Each hop's failure is named.
	if !strings.Contains(err.Error(), down.URL) {
		t.Fatalf("error does not name the failing gateway: %v", err)
	}
}

func TestFetchRejectsInvalidCID(t *testing.T) {
	src := New("https://ipfs.io/ipfs/")
	_, err := src.Fetch(context.Background(), "claude-shannon")
	if !errors.Is(err, storage.ErrInvalidCID) {
		t.Fatalf("err = %v, want ErrInvalidCID", err)
	}
}

func TestFetchHonorsCancellation(t *testing.T) {
	ref := cidutil.CIDv1RawSHA256([]byte("x"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := New("http://127.0.0.1:0/")
	_, err := src.Fetch(ctx, ref)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
