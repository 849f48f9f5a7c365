package fetch

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aide-sh/aide/internal/domain"
)

// newTestFetcher returns a Fetcher whose retry delay is a no-op.
func newTestFetcher(t *testing.T) *Fetcher {
	t.Helper()
	f := New()
	f.SetSleep(func(time.Duration) {})
	return f
}

func TestFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.bin")
	f := newTestFetcher(t)
	if err := f.Fetch(srv.URL, dest, nil); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read destination: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("destination = %q, want %q", data, "payload")
	}
}

func TestFetchRetriesThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("eventually"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.bin")
	f := newTestFetcher(t)
	if err := f.Fetch(srv.URL, dest, nil); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("server calls = %d, want 3", got)
	}
}

func TestFetchExhaustsAttempts(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.bin")
	f := newTestFetcher(t)
	err := f.Fetch(srv.URL, dest, nil)
	if !errors.Is(err, domain.ErrFetchExhausted) {
		t.Fatalf("err = %v, want ErrFetchExhausted", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("server calls = %d, want exactly 3", got)
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Errorf("partial file left at %s after exhaustion", dest)
	}
}

func TestFetchRemovesPartialFile(t *testing.T) {
	// Announce more bytes than we send, then cut the connection.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000000")
		w.Write([]byte("partial"))
		if fl, ok := w.(http.Flusher); ok {
			fl.Flush()
		}
		conn, _, _ := w.(http.Hijacker).Hijack()
		conn.Close()
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.bin")
	f := newTestFetcher(t)
	if err := f.Fetch(srv.URL, dest, nil); err == nil {
		t.Fatal("Fetch succeeded on truncated body")
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Errorf("truncated file left at %s", dest)
	}
}

func TestFetchNotFoundShortCircuits(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := newTestFetcher(t)
	err := f.Fetch(srv.URL, filepath.Join(t.TempDir(), "out.bin"), nil)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("server calls = %d, want 1 (no retry on 404)", got)
	}
}

func TestFetchString(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("1.4.2\n"))
	}))
	defer srv.Close()

	f := newTestFetcher(t)
	got, err := f.FetchString(srv.URL)
	if err != nil {
		t.Fatalf("FetchString: %v", err)
	}
	if got != "1.4.2\n" {
		t.Errorf("body = %q", got)
	}
}

func TestProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/present":
			w.WriteHeader(http.StatusOK)
		case "/no-head":
			w.WriteHeader(http.StatusMethodNotAllowed)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	f := newTestFetcher(t)

	tests := []struct {
		path string
		want bool
	}{
		{"/present", true},
		{"/no-head", true},
		{"/missing", false},
	}
	for _, tt := range tests {
		got, err := f.Probe(srv.URL + tt.path)
		if err != nil {
			t.Fatalf("Probe(%s): %v", tt.path, err)
		}
		if got != tt.want {
			t.Errorf("Probe(%s) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestFetchSendsBearerToken(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := newTestFetcher(t)
	f.Token = "secret"
	if _, err := f.FetchString(srv.URL); err != nil {
		t.Fatalf("FetchString: %v", err)
	}
	if auth != "Bearer secret" {
		t.Errorf("Authorization = %q", auth)
	}
}
