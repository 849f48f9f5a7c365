// Package fetch retrieves remote resources with bounded retry.
// Every failed attempt removes the partial destination file — a caller
// never observes a truncated download on disk.
package fetch

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/aide-sh/aide/internal/domain"
	"github.com/aide-sh/aide/internal/infra/metrics"
)

const userAgent = "Aide/1.0"

// Fetcher downloads remote files with a fixed retry policy.
type Fetcher struct {
	Client   *http.Client
	Attempts int
	Delay    time.Duration
	// Token, when set, is sent as a bearer credential on every request.
	Token string

	// sleep is injectable for tests.
	sleep func(time.Duration)
	log   *slog.Logger
}

// New returns a Fetcher with the repo's 3-attempt / fixed-delay policy.
func New() *Fetcher {
	return &Fetcher{
		Client:   &http.Client{Timeout: 0}, // no timeout: model files are large
		Attempts: 3,
		Delay:    2 * time.Second,
		sleep:    time.Sleep,
		log:      slog.With("component", "fetch"),
	}
}

// SetSleep overrides the inter-attempt delay function (tests).
func (f *Fetcher) SetSleep(fn func(time.Duration)) { f.sleep = fn }

// Fetch downloads url to destination, retrying up to the attempt bound.
// On exhaustion it returns domain.ErrFetchExhausted; the destination is
// never left as a partial file.
func (f *Fetcher) Fetch(url, destination string, progress func(status string, pct float64)) error {
	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return fmt.Errorf("create destination dir: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= f.Attempts; attempt++ {
		metrics.FetchAttempts.Inc()
		err := f.fetchOnce(url, destination, progress)
		if err == nil {
			return nil
		}
		// A hard 404 will not improve on retry.
		if errors.Is(err, domain.ErrNotFound) {
			os.Remove(destination)
			return err
		}
		lastErr = err
		os.Remove(destination)
		f.log.Warn("fetch attempt failed", "url", url, "attempt", attempt, "error", err)
		if attempt < f.Attempts {
			f.sleep(f.Delay)
		}
	}

	metrics.FetchExhausted.Inc()
	return fmt.Errorf("%w: %s after %d attempts: %v", domain.ErrFetchExhausted, url, f.Attempts, lastErr)
}

// FetchString retrieves a small remote resource into memory with the
// same retry policy. Used for version tokens and feed probing.
func (f *Fetcher) FetchString(url string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= f.Attempts; attempt++ {
		metrics.FetchAttempts.Inc()
		body, err := f.getBody(url)
		if err == nil {
			return string(body), nil
		}
		if errors.Is(err, domain.ErrNotFound) {
			return "", err
		}
		lastErr = err
		if attempt < f.Attempts {
			f.sleep(f.Delay)
		}
	}
	metrics.FetchExhausted.Inc()
	return "", fmt.Errorf("%w: %s: %v", domain.ErrFetchExhausted, url, lastErr)
}

// Probe checks whether a remote resource exists via a HEAD request.
// Returns false (no error) on 404 — that is the feed's end-of-sequence
// signal, not a failure.
func (f *Fetcher) Probe(url string) (bool, error) {
	req, err := http.NewRequest(http.MethodHead, url, nil)
	if err != nil {
		return false, err
	}
	f.decorate(req)

	resp, err := f.Client.Do(req)
	if err != nil {
		return false, err
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return true, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	// Some feeds reject HEAD; treat method-not-allowed as present and
	// let the full fetch decide.
	case resp.StatusCode == http.StatusMethodNotAllowed:
		return true, nil
	default:
		return false, fmt.Errorf("probe %s: HTTP %d", url, resp.StatusCode)
	}
}

// ─── Internals ──────────────────────────────────────────────────────────────

func (f *Fetcher) fetchOnce(url, destination string, progress func(string, float64)) error {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	f.decorate(req)

	resp, err := f.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, url)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d from %s", resp.StatusCode, url)
	}

	out, err := os.Create(destination)
	if err != nil {
		return fmt.Errorf("create %s: %w", destination, err)
	}

	totalSize := resp.ContentLength
	buf := make([]byte, 256*1024)
	var downloaded int64

	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := out.Write(buf[:n]); err != nil {
				out.Close()
				return fmt.Errorf("write %s: %w", destination, err)
			}
			downloaded += int64(n)
			if progress != nil && totalSize > 0 {
				pct := float64(downloaded) / float64(totalSize) * 100
				progress(fmt.Sprintf("downloading %s / %s",
					domain.HumanSize(downloaded), domain.HumanSize(totalSize)), pct)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			out.Close()
			return fmt.Errorf("download interrupted: %w", readErr)
		}
	}
	return out.Close()
}

func (f *Fetcher) getBody(url string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	f.decorate(req)

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, url)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d from %s", resp.StatusCode, url)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

func (f *Fetcher) decorate(req *http.Request) {
	req.Header.Set("User-Agent", userAgent)
	if f.Token != "" {
		req.Header.Set("Authorization", "Bearer "+f.Token)
	}
}
