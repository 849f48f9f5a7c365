package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aide-sh/aide/internal/domain"
	"github.com/aide-sh/aide/internal/infra/fetch"
	"github.com/aide-sh/aide/internal/infra/state"
)

// SmokeFunc runs a one-shot inference against the artifact and returns
// an error when the model produced no usable output.
type SmokeFunc func(ctx context.Context, modelPath string) error

// Acquirer ensures the selected model artifact exists, is non-empty,
// and produced output under a real inference invocation.
type Acquirer struct {
	Fetcher *fetch.Fetcher
	Store   *state.Store
	// Dir is the local models directory.
	Dir string
	// URLOverride bypasses the catalog (tests, private registries).
	URLOverride string
	// Smoke validates the artifact through the resolved engine binary.
	// Nil skips the inference test (the file-size check still applies).
	Smoke SmokeFunc
	// Progress receives download status, may be nil.
	Progress func(status string, pct float64)

	log *slog.Logger
}

// NewAcquirer creates an Acquirer.
func NewAcquirer(f *fetch.Fetcher, st *state.Store, dir string) *Acquirer {
	return &Acquirer{
		Fetcher: f,
		Store:   st,
		Dir:     dir,
		log:     slog.With("component", "model"),
	}
}

// Ensure makes the named model present and verified, returning its
// local path. Already-verified artifacts are a no-op: no network fetch.
// A zero-byte or smoke-failing artifact is deleted and re-fetched
// exactly once; a second consecutive failure is fatal.
func (a *Acquirer) Ensure(ctx context.Context, name string) (string, error) {
	sel, err := a.Store.Model()
	if err != nil {
		return "", err
	}

	// Idempotence: verified in state AND still sane on disk.
	if sel.Name == name && sel.Status == domain.ModelVerified && nonEmptyFile(sel.Path) {
		return sel.Path, nil
	}

	url, dest, err := a.resolveSource(name)
	if err != nil {
		return "", err
	}

	const rounds = 2 // initial acquisition + one recovery re-fetch
	var lastErr error
	for round := 1; round <= rounds; round++ {
		path, err := a.acquireOnce(ctx, name, url, dest)
		if err == nil {
			return path, nil
		}
		lastErr = err

		// Network exhaustion is not a corrupt-artifact condition; the
		// re-fetch round only covers verification failures.
		if errors.Is(err, domain.ErrFetchExhausted) || errors.Is(err, domain.ErrNotFound) {
			return "", err
		}

		a.log.Warn("model verification failed, discarding artifact",
			"model", name, "round", round, "error", err)
		os.Remove(dest)
		if err := a.Store.SetModel(domain.ModelSelection{Name: name, Status: domain.ModelAbsent}); err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("model %s failed verification twice: %w", name, lastErr)
}

// resolveSource maps a model name to its download URL and local path.
func (a *Acquirer) resolveSource(name string) (url, dest string, err error) {
	entry := Lookup(name)
	switch {
	case a.URLOverride != "":
		file := name + ".gguf"
		if entry != nil {
			file = entry.File
		}
		return a.URLOverride + "/" + file, filepath.Join(a.Dir, file), nil
	case entry != nil:
		return entry.DownloadURL(), filepath.Join(a.Dir, entry.File), nil
	default:
		return "", "", fmt.Errorf("%w: %q", domain.ErrModelNotFound, name)
	}
}

func (a *Acquirer) acquireOnce(ctx context.Context, name, url, dest string) (string, error) {
	if !nonEmptyFile(dest) {
		if err := a.Store.SetModel(domain.ModelSelection{
			Name: name, Path: dest, Status: domain.ModelDownloading,
		}); err != nil {
			return "", err
		}

		// Download to a temp file first, then rename. A crashed fetch
		// never leaves a half-written artifact at the final path.
		tmp := dest + ".download"
		if err := a.Fetcher.Fetch(url, tmp, a.Progress); err != nil {
			os.Remove(tmp)
			return "", err
		}
		if err := os.Rename(tmp, dest); err != nil {
			os.Remove(tmp)
			return "", fmt.Errorf("finalize model: %w", err)
		}
	}

	info, err := os.Stat(dest)
	if err != nil {
		return "", err
	}
	if info.Size() == 0 {
		return "", fmt.Errorf("%w: %s", domain.ErrModelEmpty, dest)
	}

	if err := a.Store.SetModel(domain.ModelSelection{
		Name: name, Path: dest, Status: domain.ModelUnverified,
	}); err != nil {
		return "", err
	}

	if a.Smoke != nil {
		if err := a.Smoke(ctx, dest); err != nil {
			return "", fmt.Errorf("%w: %v", domain.ErrModelUnverified, err)
		}
	}

	if err := a.Store.SetModel(domain.ModelSelection{
		Name: name, Path: dest, Status: domain.ModelVerified,
	}); err != nil {
		return "", err
	}
	return dest, nil
}

func nonEmptyFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir() && info.Size() > 0
}
