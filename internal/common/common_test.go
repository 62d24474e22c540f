package common

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

var testBackoff = BackoffConfig{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

func TestDoRequestRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	cfg := HTTPClientConfig{Client: srv.Client(), Backoff: testBackoff}
	resp, err := DoRequest(context.Background(), cfg, NewBreaker("t"), func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, srv.URL, nil)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if hits.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", hits.Load())
	}
}

func TestDoRequestDoesNotRetryClientErrors(t *testing.T) {
	for status, want := range map[int]error{
		http.StatusTooManyRequests: ErrRateLimited,
		http.StatusForbidden:       ErrUnexpected,
	} {
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(status)
		}))

		cfg := HTTPClientConfig{Client: srv.Client(), Backoff: testBackoff}
		_, err := DoRequest(context.Background(), cfg, NewBreaker("t"), func() (*http.Request, error) {
			return http.NewRequest(http.MethodGet, srv.URL, nil)
		})
		srv.Close()
		if !errors.Is(err, want) {
			t.Fatalf("status %d: expected %v, got %v", status, want, err)
		}
		if hits.Load() != 1 {
			t.Fatalf("status %d: expected 1 attempt, got %d", status, hits.Load())
		}
	}
}

func TestBreakerIgnoresClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	cfg := HTTPClientConfig{Client: srv.Client(), Backoff: testBackoff}
	cb := NewBreaker("t")
	for i := 0; i < 10; i++ {
		_, err := DoRequest(context.Background(), cfg, cb, func() (*http.Request, error) {
			return http.NewRequest(http.MethodGet, srv.URL+"/missing", nil)
		})
		if !errors.Is(err, ErrUnexpected) {
			t.Fatalf("request %d: expected ErrUnexpected, got %v", i, err)
		}
	}
	resp, err := DoRequest(context.Background(), cfg, cb, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, srv.URL, nil)
	})
	if err != nil {
		t.Fatalf("breaker opened on 404s: %v", err)
	}
	resp.Body.Close()
}

func TestDoRequestConfigErrors(t *testing.T) {
	build := func() (*http.Request, error) { return http.NewRequest(http.MethodGet, "http://example.invalid", nil) }
	if _, err := DoRequest(context.Background(), HTTPClientConfig{Backoff: testBackoff}, NewBreaker("t"), build); err == nil {
		t.Fatalf("expected error without client")
	}
	if _, err := DoRequest(context.Background(), HTTPClientConfig{Client: http.DefaultClient}, NewBreaker("t"), build); err == nil {
		t.Fatalf("expected error with zero backoff")
	}
}

func TestSlug(t *testing.T) {
	tests := map[string]string{
		"American Robin":                          "american_robin",
		"  Turdus migratorius ":                   "turdus_migratorius",
		"Cardinalis cardinalis_Northern Cardinal": "cardinalis_cardinalis_northern_cardinal",
		"Chuck-will's-widow":                      "chuck_will_s_widow",
		"Grünfink":                                "grünfink",
		"!!!":                                     "",
	}
	for in, want := range tests {
		if got := Slug(in); got != want {
			t.Fatalf("Slug(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestHasAny(t *testing.T) {
	if !HasAny("RateLimited", "ratelimit") || HasAny("ok", "error") {
		t.Fatalf("unexpected HasAny result")
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ExpandHome("~/x.json"); got != filepath.Join(home, "x.json") {
		t.Fatalf("ExpandHome = %q", got)
	}
	if got := ExpandHome("/etc/x"); got != "/etc/x" {
		t.Fatalf("ExpandHome = %q", got)
	}
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "file.json")

	if err := WriteFileAtomic(path, []byte("one"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := WriteFileAtomic(path, []byte("two"), 0o600); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil || string(got) != "two" {
		t.Fatalf("content = %q, %v", got, err)
	}
	info, _ := os.Stat(path)
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("mode = %v", info.Mode().Perm())
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), TempPrefix) {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}
