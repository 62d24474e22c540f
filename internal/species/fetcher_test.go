package species

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/i474232898/birdnet-display/internal/common"
)

func speciesServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != ListPath {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestFetcher(srv *httptest.Server) *Fetcher {
	f := NewFetcher(srv.Client(), srv.URL+"/")
	f.httpCfg.Backoff = common.BackoffConfig{MaxRetries: 0, InitialInterval: time.Millisecond}
	return f
}

func TestFetchMixedEntries(t *testing.T) {
	srv := speciesServer(t, http.StatusOK, `{"species": [
		{"scientificName": "Turdus migratorius", "commonName": "American Robin"},
		{"commonName": "Blue Jay"},
		{"label": "Cardinalis cardinalis_Northern Cardinal"},
		"Sitta carolinensis",
		"Turdus migratorius",
		{"scientificName": "  "}
	]}`)

	set, err := newTestFetcher(srv).Fetch(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := Set{"Turdus migratorius", "Blue Jay", "Cardinalis cardinalis_Northern Cardinal", "Sitta carolinensis"}
	if !set.Equal(want) {
		t.Fatalf("Fetch = %v, want %v", set, want)
	}
}

func TestFetchFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `oops`},
		{"not found", http.StatusNotFound, `{}`},
		{"malformed", http.StatusOK, `{"species": [`},
		{"missing field", http.StatusOK, `{"count": 3}`},
		{"empty list", http.StatusOK, `{"species": []}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := speciesServer(t, tt.status, tt.body)
			if _, err := newTestFetcher(srv).Fetch(context.Background()); !errors.Is(err, ErrFetch) {
				t.Fatalf("expected ErrFetch, got %v", err)
			}
		})
	}

	// Unreachable host.
	f := NewFetcher(http.DefaultClient, "http://127.0.0.1:1")
	f.httpCfg.Backoff = common.BackoffConfig{MaxRetries: 0, InitialInterval: time.Millisecond}
	if _, err := f.Fetch(context.Background()); !errors.Is(err, ErrFetch) {
		t.Fatalf("expected ErrFetch, got %v", err)
	}
}

func TestWaitReady(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != ReadyPath {
			http.NotFound(w, r)
			return
		}
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := NewFetcher(srv.Client(), srv.URL)
	if !f.WaitReady(context.Background(), 5*time.Second, 10*time.Millisecond) {
		t.Fatalf("expected API to become ready")
	}
	if hits.Load() != 3 {
		t.Fatalf("expected 3 polls, got %d", hits.Load())
	}

	down := NewFetcher(http.DefaultClient, "http://127.0.0.1:1")
	if down.WaitReady(context.Background(), 50*time.Millisecond, 10*time.Millisecond) {
		t.Fatalf("expected timeout")
	}
	if !down.WaitReady(context.Background(), 0, 0) {
		t.Fatalf("zero wait should not block")
	}
}

func TestListFileRoundTrip(t *testing.T) {
	l := NewListFile(filepath.Join(t.TempDir(), "cache", "species_list.json"))

	if _, err := l.Load(); !errors.Is(err, ErrNoList) {
		t.Fatalf("expected ErrNoList, got %v", err)
	}

	set := Set{"Blue Jay", "American Robin"}
	if err := l.Save(set, 33.749, -84.388); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := l.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !got.Equal(set) {
		t.Fatalf("Load = %v, want %v", got, set)
	}
}

func TestSetEqual(t *testing.T) {
	if !(Set{"a", "b"}).Equal(Set{"a", "b"}) {
		t.Fatalf("equal sets reported different")
	}
	if (Set{"a", "b"}).Equal(Set{"b", "a"}) || (Set{"a"}).Equal(nil) {
		t.Fatalf("different sets reported equal")
	}
	if !Set(nil).Equal(Set{}) {
		t.Fatalf("nil and empty should be equal")
	}
}
