package model

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

	"github.com/aide-sh/aide/internal/domain"
	"github.com/aide-sh/aide/internal/infra/fetch"
	"github.com/aide-sh/aide/internal/infra/state"
)

// newTestAcquirer wires an Acquirer against a local server whose body
// is chosen per request by the bodies func.
func newTestAcquirer(t *testing.T, body func(call int) []byte) (*Acquirer, *state.Store, *int32) {
	t.Helper()
	dir := t.TempDir()

	st, err := state.Open(filepath.Join(dir, "state"))
	if err != nil {
		t.Fatalf("Open state: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		w.Write(body(int(n)))
	}))
	t.Cleanup(srv.Close)

	f := fetch.New()
	f.SetSleep(func(time.Duration) {})

	a := NewAcquirer(f, st, filepath.Join(dir, "models"))
	a.URLOverride = srv.URL
	return a, st, &calls
}

func TestEnsureDownloadsAndVerifies(t *testing.T) {
	a, st, calls := newTestAcquirer(t, func(int) []byte {
		return []byte("GGUF-fake-model-bytes")
	})
	smoked := false
	a.Smoke = func(ctx context.Context, path string) error {
		smoked = true
		return nil
	}

	path, err := a.Ensure(context.Background(), "tinyllama")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if !smoked {
		t.Error("smoke test never ran")
	}
	if info, err := os.Stat(path); err != nil || info.Size() == 0 {
		t.Errorf("artifact missing or empty at %s", path)
	}
	if got := atomic.LoadInt32(calls); got != 1 {
		t.Errorf("fetches = %d, want 1", got)
	}

	sel, err := st.Model()
	if err != nil {
		t.Fatalf("Model: %v", err)
	}
	if sel.Status != domain.ModelVerified {
		t.Errorf("status = %v, want verified", sel.Status)
	}
	if sel.Path != path {
		t.Errorf("recorded path = %q, want %q", sel.Path, path)
	}
}

func TestEnsureVerifiedIsNoOp(t *testing.T) {
	a, _, calls := newTestAcquirer(t, func(int) []byte {
		return []byte("GGUF-fake-model-bytes")
	})

	if _, err := a.Ensure(context.Background(), "tinyllama"); err != nil {
		t.Fatalf("first Ensure: %v", err)
	}
	if _, err := a.Ensure(context.Background(), "tinyllama"); err != nil {
		t.Fatalf("second Ensure: %v", err)
	}
	if got := atomic.LoadInt32(calls); got != 1 {
		t.Errorf("fetches = %d, want 1 (verified model must not refetch)", got)
	}
}

func TestEnsureEmptyArtifactRefetchesOnceThenFatal(t *testing.T) {
	// The feed serves a zero-byte artifact every time.
	a, st, calls := newTestAcquirer(t, func(int) []byte {
		return nil
	})

	_, err := a.Ensure(context.Background(), "tinyllama")
	if err == nil {
		t.Fatal("Ensure succeeded on empty artifact")
	}
	if !errors.Is(err, domain.ErrModelEmpty) {
		t.Errorf("err = %v, want ErrModelEmpty in chain", err)
	}
	if !strings.Contains(err.Error(), "twice") {
		t.Errorf("err = %v, want double-failure wording", err)
	}
	// Exactly one recovery re-fetch, then give up.
	if got := atomic.LoadInt32(calls); got != 2 {
		t.Errorf("fetches = %d, want exactly 2", got)
	}

	sel, _ := st.Model()
	if sel.Status != domain.ModelAbsent {
		t.Errorf("status = %v, want absent after fatal failure", sel.Status)
	}
}

func TestEnsureSmokeFailureDiscardsArtifact(t *testing.T) {
	a, _, calls := newTestAcquirer(t, func(int) []byte {
		return []byte("GGUF-fake-model-bytes")
	})
	var artifact string
	a.Smoke = func(ctx context.Context, path string) error {
		artifact = path
		return errors.New("no output")
	}

	_, err := a.Ensure(context.Background(), "tinyllama")
	if err == nil {
		t.Fatal("Ensure succeeded despite failing smoke test")
	}
	if got := atomic.LoadInt32(calls); got != 2 {
		t.Errorf("fetches = %d, want 2 (one recovery round)", got)
	}
	if _, statErr := os.Stat(artifact); !os.IsNotExist(statErr) {
		t.Errorf("unverified artifact left at %s", artifact)
	}
}

func TestEnsureSmokePassesOnSecondRound(t *testing.T) {
	a, st, _ := newTestAcquirer(t, func(int) []byte {
		return []byte("GGUF-fake-model-bytes")
	})
	round := 0
	a.Smoke = func(ctx context.Context, path string) error {
		round++
		if round == 1 {
			return errors.New("engine crashed")
		}
		return nil
	}

	path, err := a.Ensure(context.Background(), "tinyllama")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if path == "" {
		t.Fatal("empty path")
	}
	sel, _ := st.Model()
	if sel.Status != domain.ModelVerified {
		t.Errorf("status = %v, want verified after recovery", sel.Status)
	}
}

func TestEnsureFetchExhaustionIsNotRefetched(t *testing.T) {
	dir := t.TempDir()
	st, err := state.Open(filepath.Join(dir, "state"))
	if err != nil {
		t.Fatalf("Open state: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	f := fetch.New()
	f.SetSleep(func(time.Duration) {})
	a := NewAcquirer(f, st, filepath.Join(dir, "models"))
	a.URLOverride = srv.URL

	_, err = a.Ensure(context.Background(), "tinyllama")
	if !errors.Is(err, domain.ErrFetchExhausted) {
		t.Fatalf("err = %v, want ErrFetchExhausted", err)
	}
	// Three transport retries inside the fetcher, no artifact-recovery
	// round on top of them.
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("fetches = %d, want 3", got)
	}
}

func TestEnsureUnknownModel(t *testing.T) {
	dir := t.TempDir()
	st, err := state.Open(filepath.Join(dir, "state"))
	if err != nil {
		t.Fatalf("Open state: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	a := NewAcquirer(fetch.New(), st, filepath.Join(dir, "models"))
	if _, err := a.Ensure(context.Background(), "no-such-model"); !errors.Is(err, domain.ErrModelNotFound) {
		t.Fatalf("err = %v, want ErrModelNotFound", err)
	}
}
