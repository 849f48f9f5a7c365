// Package features discovers, fetches, and executes the numbered
// sequence of optional extension scripts.
//
// The feed is contiguous: feature1, feature2, ... and the first missing
// index terminates discovery. A gap truncates everything after it —
// simplicity over sparse addressing.
package features

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/aide-sh/aide/internal/domain"
	"github.com/aide-sh/aide/internal/infra/fetch"
	"github.com/aide-sh/aide/internal/infra/state"
)

// Loader installs feature scripts from the remote feed.
type Loader struct {
	Fetcher *fetch.Fetcher
	Store   *state.Store
	BaseURL string
	Dir     string
	Timeout time.Duration
	// MaxIndex guards against a runaway feed that answers every probe.
	MaxIndex int

	log *slog.Logger
}

// NewLoader creates a Loader with production defaults.
func NewLoader(f *fetch.Fetcher, st *state.Store, baseURL, dir string) *Loader {
	return &Loader{
		Fetcher:  f,
		Store:    st,
		BaseURL:  baseURL,
		Dir:      dir,
		Timeout:  2 * time.Minute,
		MaxIndex: 256,
		log:      slog.With("component", "features"),
	}
}

// Summary reports the outcome of one sync pass.
type Summary struct {
	Installed int
	Skipped   int
	Failed    []string
}

// Sync walks the feed in index order. Already-installed features are
// skipped; failed ones are retried; the first absent index stops the
// walk. A feature's failure is recorded and reported but never aborts
// the pass — only infrastructure errors (state store, exhausted fetch)
// do.
func (l *Loader) Sync(ctx context.Context) (Summary, error) {
	var sum Summary

	if err := os.MkdirAll(l.Dir, 0o755); err != nil {
		return sum, fmt.Errorf("create features dir: %w", err)
	}

	for i := 1; i <= l.MaxIndex; i++ {
		name := fmt.Sprintf("feature%d", i)

		rec, err := l.Store.Feature(i)
		if err != nil {
			return sum, err
		}
		if rec != nil && rec.Status == domain.FeatureInstalled {
			sum.Skipped++
			continue
		}

		url := l.BaseURL + "/" + name
		exists, err := l.Fetcher.Probe(url)
		if err != nil {
			return sum, fmt.Errorf("probe %s: %w", name, err)
		}
		if !exists {
			break // end of the contiguous feed
		}

		if err := l.installOne(ctx, i, name, url, &sum); err != nil {
			return sum, err
		}
	}
	return sum, nil
}

// installOne fetches and runs a single feature, recording the outcome
// regardless of success.
func (l *Loader) installOne(ctx context.Context, idx int, name, url string, sum *Summary) error {
	dest := filepath.Join(l.Dir, name)

	if err := l.Fetcher.Fetch(url, dest, nil); err != nil {
		return err
	}
	if err := os.Chmod(dest, 0o755); err != nil {
		return fmt.Errorf("chmod %s: %w", dest, err)
	}

	rec := domain.FeatureRecord{
		Index:  idx,
		Name:   name,
		Source: url,
		Status: domain.FeaturePending,
	}
	// Committed before execution: a crash mid-script leaves a pending
	// record, and the next pass retries it.
	if err := l.Store.UpsertFeature(rec); err != nil {
		return err
	}

	rec.Status = domain.FeatureInstalled
	rec.InstalledAt = time.Now()
	if err := l.execute(ctx, dest); err != nil {
		l.log.Warn("feature script failed", "feature", name, "error", err)
		rec.Status = domain.FeatureFailed
		sum.Failed = append(sum.Failed, name)
	} else {
		sum.Installed++
	}

	return l.Store.UpsertFeature(rec)
}

// execute runs the script in its own process group so it cannot share
// terminal signals or mutable state with the supervisor.
func (l *Loader) execute(ctx context.Context, path string) error {
	ctx, cancel := context.WithTimeout(ctx, l.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, path)
	cmd.Dir = l.Dir
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	isolateProcess(cmd)

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrFeatureFailed, err)
	}
	return nil
}
