package features

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/aide-sh/aide/internal/domain"
	"github.com/aide-sh/aide/internal/infra/fetch"
	"github.com/aide-sh/aide/internal/infra/state"
)

// feedServer serves the named feature scripts as shell source and 404s
// everything else. It records which paths were requested.
type feedServer struct {
	mu       sync.Mutex
	scripts  map[string]string // "feature1" -> script body
	requests []string
	srv      *httptest.Server
}

func newFeedServer(t *testing.T, scripts map[string]string) *feedServer {
	t.Helper()
	fs := &feedServer{scripts: scripts}
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := filepath.Base(r.URL.Path)
		fs.mu.Lock()
		fs.requests = append(fs.requests, r.Method+" "+name)
		fs.mu.Unlock()

		body, ok := fs.scripts[name]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(body))
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *feedServer) requested(entry string) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, r := range fs.requests {
		if r == entry {
			return true
		}
	}
	return false
}

func newTestLoader(t *testing.T, fs *feedServer) (*Loader, *state.Store) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fixtures are unix-only")
	}
	dir := t.TempDir()
	st, err := state.Open(filepath.Join(dir, "state"))
	if err != nil {
		t.Fatalf("Open state: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	f := fetch.New()
	f.SetSleep(func(time.Duration) {})

	l := NewLoader(f, st, fs.srv.URL, filepath.Join(dir, "features"))
	l.Timeout = 10 * time.Second
	return l, st
}

const okScript = "#!/bin/sh\nexit 0\n"
const failScript = "#!/bin/sh\nexit 3\n"

func TestSyncInstallsContiguousFeed(t *testing.T) {
	fs := newFeedServer(t, map[string]string{
		"feature1": okScript,
		"feature2": okScript,
	})
	l, st := newTestLoader(t, fs)

	sum, err := l.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if sum.Installed != 2 || sum.Skipped != 0 || len(sum.Failed) != 0 {
		t.Errorf("summary = %+v, want 2 installed", sum)
	}

	recs, _ := st.Features()
	if len(recs) != 2 {
		t.Fatalf("registry has %d records, want 2", len(recs))
	}
	for _, r := range recs {
		if r.Status != domain.FeatureInstalled {
			t.Errorf("feature%d status = %v", r.Index, r.Status)
		}
		if _, err := os.Stat(filepath.Join(l.Dir, r.Name)); err != nil {
			t.Errorf("script missing for %s: %v", r.Name, err)
		}
	}
}

func TestSyncStopsAtFirstGap(t *testing.T) {
	// feature3 is missing; feature4 exists but must never be reached.
	fs := newFeedServer(t, map[string]string{
		"feature1": okScript,
		"feature2": okScript,
		"feature4": okScript,
	})
	l, st := newTestLoader(t, fs)

	sum, err := l.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if sum.Installed != 2 {
		t.Errorf("installed = %d, want 2", sum.Installed)
	}
	if fs.requested("GET feature4") || fs.requested("HEAD feature4") {
		t.Error("feature4 was probed past the gap")
	}
	if rec, _ := st.Feature(4); rec != nil {
		t.Errorf("feature4 recorded: %+v", rec)
	}
}

func TestSyncFeatureFailureIsNonFatal(t *testing.T) {
	fs := newFeedServer(t, map[string]string{
		"feature1": failScript,
		"feature2": okScript,
	})
	l, st := newTestLoader(t, fs)

	sum, err := l.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if sum.Installed != 1 {
		t.Errorf("installed = %d, want 1", sum.Installed)
	}
	if len(sum.Failed) != 1 || sum.Failed[0] != "feature1" {
		t.Errorf("failed = %v, want [feature1]", sum.Failed)
	}

	// The failure is recorded; the rest of the feed still installed.
	rec, _ := st.Feature(1)
	if rec == nil || rec.Status != domain.FeatureFailed {
		t.Errorf("feature1 record = %+v, want failed", rec)
	}
	rec, _ = st.Feature(2)
	if rec == nil || rec.Status != domain.FeatureInstalled {
		t.Errorf("feature2 record = %+v, want installed", rec)
	}
}

func TestSyncSkipsInstalledRetriesFailed(t *testing.T) {
	fs := newFeedServer(t, map[string]string{
		"feature1": okScript,
		"feature2": okScript,
	})
	l, st := newTestLoader(t, fs)

	// Prior pass: 1 installed, 2 failed.
	if err := st.UpsertFeature(domain.FeatureRecord{
		Index: 1, Name: "feature1", Status: domain.FeatureInstalled, InstalledAt: time.Now(),
	}); err != nil {
		t.Fatalf("UpsertFeature: %v", err)
	}
	if err := st.UpsertFeature(domain.FeatureRecord{
		Index: 2, Name: "feature2", Status: domain.FeatureFailed,
	}); err != nil {
		t.Fatalf("UpsertFeature: %v", err)
	}

	sum, err := l.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if sum.Skipped != 1 {
		t.Errorf("skipped = %d, want 1", sum.Skipped)
	}
	if sum.Installed != 1 {
		t.Errorf("installed = %d, want 1 (retried feature2)", sum.Installed)
	}
	if fs.requested("GET feature1") {
		t.Error("installed feature1 was re-fetched")
	}

	rec, _ := st.Feature(2)
	if rec == nil || rec.Status != domain.FeatureInstalled {
		t.Errorf("feature2 record = %+v, want installed after retry", rec)
	}
}

func TestSyncEmptyFeed(t *testing.T) {
	fs := newFeedServer(t, nil)
	l, _ := newTestLoader(t, fs)

	sum, err := l.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if sum.Installed != 0 || sum.Skipped != 0 || len(sum.Failed) != 0 {
		t.Errorf("summary = %+v, want empty", sum)
	}
}
