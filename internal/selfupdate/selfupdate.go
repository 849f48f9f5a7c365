// Package selfupdate replaces the running installer with a newer remote
// build. Self-update is best-effort: every failure path leaves the
// current installer in force and never blocks the main run.
package selfupdate

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aide-sh/aide/internal/infra/fetch"
	"github.com/aide-sh/aide/internal/infra/metrics"
	"github.com/aide-sh/aide/internal/version"
)

// Updater checks the remote feed and atomically replaces the running
// executable when the remote version is strictly newer.
type Updater struct {
	Fetcher        *fetch.Fetcher
	CurrentVersion string
	// FeedURL serves the installer binary; VersionURL its version token.
	FeedURL    string
	VersionURL string
	// BackupDir receives the timestamped copy of the replaced installer.
	BackupDir string

	// execPath and reexec are injectable for tests.
	execPath func() (string, error)
	reexec   func(argv0 string, argv, envv []string) error
	log      *slog.Logger
}

// New creates an Updater for the running process.
func New(f *fetch.Fetcher, currentVersion, feedURL, versionURL, backupDir string) *Updater {
	return &Updater{
		Fetcher:        f,
		CurrentVersion: currentVersion,
		FeedURL:        feedURL,
		VersionURL:     versionURL,
		BackupDir:      backupDir,
		execPath:       os.Executable,
		reexec:         replaceProcess,
		log:            slog.With("component", "selfupdate"),
	}
}

// SetExecPath overrides executable discovery (tests).
func (u *Updater) SetExecPath(fn func() (string, error)) { u.execPath = fn }

// SetReexec overrides process replacement (tests).
func (u *Updater) SetReexec(fn func(string, []string, []string) error) { u.reexec = fn }

// Check compares versions and applies an update when the remote is
// strictly newer. On apply it re-invokes the new build with the
// original arguments via process replacement and does not return.
// Remote equal or older: no-op, no write. Any failure: logged warning,
// normal return — the caller continues with the current version.
//
// The returned bool reports whether an update was applied (only
// observable under an injected reexec).
func (u *Updater) Check(ctx context.Context, args []string) bool {
	remote, err := u.remoteVersion()
	if err != nil {
		metrics.SelfUpdates.WithLabelValues("failed").Inc()
		u.log.Warn("version check failed, continuing with current version",
			"current", u.CurrentVersion, "error", err)
		return false
	}

	if version.Compare(remote, u.CurrentVersion) <= 0 {
		metrics.SelfUpdates.WithLabelValues("up_to_date").Inc()
		return false
	}

	u.log.Info("newer installer available", "current", u.CurrentVersion, "remote", remote)
	if err := u.apply(ctx, args); err != nil {
		metrics.SelfUpdates.WithLabelValues("failed").Inc()
		u.log.Warn("self-update failed, continuing with current version", "error", err)
		return false
	}
	metrics.SelfUpdates.WithLabelValues("applied").Inc()
	return true
}

// remoteVersion fetches and trims the remote version token.
func (u *Updater) remoteVersion() (string, error) {
	body, err := u.Fetcher.FetchString(u.VersionURL)
	if err != nil {
		return "", err
	}
	// The token is the first whitespace-delimited field of the feed.
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return "", fmt.Errorf("empty version feed at %s", u.VersionURL)
	}
	return fields[0], nil
}

// apply downloads the new build, backs up the current one with a
// timestamped name, atomically renames the download over the running
// executable, and replaces the process.
func (u *Updater) apply(ctx context.Context, args []string) error {
	self, err := u.execPath()
	if err != nil {
		return fmt.Errorf("locate running executable: %w", err)
	}

	// Download next to the target so the final rename stays on one
	// filesystem and is atomic.
	tmp := filepath.Join(filepath.Dir(self), ".ai-update.tmp")
	if err := u.Fetcher.Fetch(u.FeedURL, tmp, nil); err != nil {
		os.Remove(tmp)
		return err
	}

	if err := u.backup(self); err != nil {
		os.Remove(tmp)
		return err
	}

	if err := os.Chmod(tmp, 0o755); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("chmod update: %w", err)
	}
	if err := os.Rename(tmp, self); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace installer: %w", err)
	}

	// Process replacement, not a fresh background process: the new
	// version resumes with the original arguments so no step is
	// skipped or duplicated.
	argv := append([]string{self}, args...)
	if err := u.reexec(self, argv, os.Environ()); err != nil {
		return fmt.Errorf("re-invoke updated installer: %w", err)
	}
	return nil
}

// backup copies the current installer into BackupDir with a
// timestamped name.
func (u *Updater) backup(self string) error {
	if err := os.MkdirAll(u.BackupDir, 0o700); err != nil {
		return err
	}
	name := fmt.Sprintf("%s.bak.%d", filepath.Base(self), time.Now().Unix())
	dst := filepath.Join(u.BackupDir, name)

	in, err := os.Open(self)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("backup installer: %w", err)
	}
	return out.Close()
}
