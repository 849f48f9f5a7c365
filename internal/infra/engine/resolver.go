// Package engine locates, builds, and invokes the local inference engine.
package engine

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Resolver finds a working engine binary among ordered candidates.
// Policy (which names are acceptable) is the candidate list; mechanism
// (how to test one) is the executability check plus a smoke invocation.
type Resolver struct {
	// Candidates are executable names in preference order.
	Candidates []string
	// SearchDirs are scanned before PATH, most-preferred first.
	SearchDirs []string
	// SmokeFlag is the cheap invocation used to validate a candidate.
	SmokeFlag string
	// SmokeTimeout bounds the smoke invocation.
	SmokeTimeout time.Duration

	log *slog.Logger
}

// NewResolver returns a Resolver with the default smoke timeout.
func NewResolver(candidates []string, searchDirs []string, smokeFlag string) *Resolver {
	return &Resolver{
		Candidates:   candidates,
		SearchDirs:   searchDirs,
		SmokeFlag:    smokeFlag,
		SmokeTimeout: 15 * time.Second,
		log:          slog.With("component", "engine"),
	}
}

// Resolve returns the first candidate that exists, is executable, and
// survives the smoke invocation. It always re-scans: a prior build may
// have been replaced, so no cached path is trusted. A candidate that
// exists but fails the smoke test is disqualified, never returned.
func (r *Resolver) Resolve(ctx context.Context) (string, error) {
	var tried []string

	for _, name := range r.Candidates {
		for _, path := range r.locate(name) {
			tried = append(tried, path)
			if err := r.smoke(ctx, path); err != nil {
				r.log.Debug("candidate failed smoke test", "path", path, "error", err)
				continue
			}
			return path, nil
		}
	}

	if len(tried) == 0 {
		return "", fmt.Errorf("no engine binary found (candidates: %s)",
			strings.Join(r.Candidates, ", "))
	}
	return "", fmt.Errorf("no candidate passed the smoke test (tried: %s)",
		strings.Join(tried, ", "))
}

// Validate re-runs the existence/executability/smoke checks on a
// previously resolved path. Used by the health check to detect a stale
// engine path without a full re-scan.
func (r *Resolver) Validate(ctx context.Context, path string) error {
	if path == "" {
		return fmt.Errorf("empty engine path")
	}
	if !isExecutable(path) {
		return fmt.Errorf("%s is missing or not executable", path)
	}
	return r.smoke(ctx, path)
}

// locate returns every plausible location of a candidate name, search
// dirs first, then PATH.
func (r *Resolver) locate(name string) []string {
	exe := name
	if runtime.GOOS == "windows" && filepath.Ext(exe) == "" {
		exe += ".exe"
	}

	var found []string
	if filepath.IsAbs(exe) {
		if isExecutable(exe) {
			found = append(found, exe)
		}
		return found
	}

	for _, dir := range r.SearchDirs {
		p := filepath.Join(dir, exe)
		if isExecutable(p) {
			found = append(found, p)
		}
	}
	if p, err := exec.LookPath(exe); err == nil {
		found = append(found, p)
	}
	return found
}

// smoke runs the validation flag and requires a zero exit.
func (r *Resolver) smoke(ctx context.Context, path string) error {
	ctx, cancel := context.WithTimeout(ctx, r.SmokeTimeout)
	defer cancel()

	stderr := &limitedBuffer{max: 4096}
	cmd := exec.CommandContext(ctx, path, r.SmokeFlag)
	cmd.Stdout = stderr
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		out := strings.TrimSpace(stderr.String())
		if out != "" {
			return fmt.Errorf("smoke invocation failed: %w: %s", err, lastLines(out, 3))
		}
		return fmt.Errorf("smoke invocation failed: %w", err)
	}
	return nil
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode()&0o111 != 0
}

func lastLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// limitedBuffer is a thread-safe buffer keeping only the last N bytes.
// Captures subprocess output without unbounded memory usage.
type limitedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, err := b.buf.Write(p)
	if b.buf.Len() > b.max {
		data := b.buf.Bytes()
		b.buf.Reset()
		b.buf.Write(data[len(data)-b.max:])
	}
	return n, err
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
