package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/aide-sh/aide/internal/domain"
)

// Tool is a system dependency the provisioner must satisfy.
type Tool struct {
	// Name is the executable probed on PATH.
	Name string
	// Package is the package-manager name when it differs from Name.
	Package string
	// Required marks tools whose absence is fatal for the run.
	Required bool
}

// DefaultTools returns the build dependencies of the engine.
func DefaultTools() []Tool {
	return []Tool{
		{Name: "git", Required: true},
		{Name: "cmake", Required: true},
		{Name: "g++", Package: buildToolchainPackage(), Required: true},
		{Name: "curl", Required: false},
	}
}

func buildToolchainPackage() string {
	if runtime.GOOS == "darwin" {
		return "gcc"
	}
	return "build-essential"
}

// PackageManager abstracts the system package manager. Failure modes
// (lock contention, stale cache) are retried around, not reimplemented.
type PackageManager struct {
	// Bin is the manager executable ("apt-get", "brew", "dnf").
	Bin string
	// InstallArgs precede the package name.
	InstallArgs []string
	// CleanArgs clear a corrupted local package cache.
	CleanArgs []string
}

// DetectPackageManager finds a supported package manager on PATH.
func DetectPackageManager() (*PackageManager, error) {
	managers := []PackageManager{
		{Bin: "apt-get", InstallArgs: []string{"install", "-y"}, CleanArgs: []string{"clean"}},
		{Bin: "dnf", InstallArgs: []string{"install", "-y"}, CleanArgs: []string{"clean", "all"}},
		{Bin: "brew", InstallArgs: []string{"install"}, CleanArgs: []string{"cleanup"}},
	}
	for _, m := range managers {
		if path, err := exec.LookPath(m.Bin); err == nil {
			m.Bin = path
			mm := m
			return &mm, nil
		}
	}
	return nil, domain.ErrNoPackageManager
}

// Provisioner ensures system tools exist and the engine source tree is
// cloned and built.
type Provisioner struct {
	PM *PackageManager
	// SourceRepo/SourceDir locate the engine source tree.
	SourceRepo string
	SourceDir  string
	// InstallRetries bounds install attempts per tool after the cache clean.
	InstallRetries int
	// BuildTimeout bounds the cmake build.
	BuildTimeout time.Duration

	// lookPath is injectable for tests.
	lookPath func(string) (string, error)
	log      *slog.Logger
}

// NewProvisioner creates a Provisioner with production defaults.
func NewProvisioner(pm *PackageManager, sourceRepo, sourceDir string) *Provisioner {
	return &Provisioner{
		PM:             pm,
		SourceRepo:     sourceRepo,
		SourceDir:      sourceDir,
		InstallRetries: 2,
		BuildTimeout:   45 * time.Minute,
		lookPath:       exec.LookPath,
		log:            slog.With("component", "provision"),
	}
}

// SetLookPath overrides PATH probing (tests).
func (p *Provisioner) SetLookPath(fn func(string) (string, error)) { p.lookPath = fn }

// EnsureTool satisfies one tool: no-op if it is already on PATH,
// otherwise install via the package manager, cleaning the package cache
// once on first failure. Exhaustion yields ErrDependencyUnsatisfied;
// the caller decides whether that is fatal (required vs optional).
func (p *Provisioner) EnsureTool(ctx context.Context, t Tool) error {
	if _, err := p.lookPath(t.Name); err == nil {
		return nil
	}
	if p.PM == nil {
		return fmt.Errorf("%w: %s (no package manager)", domain.ErrDependencyUnsatisfied, t.Name)
	}

	pkg := t.Package
	if pkg == "" {
		pkg = t.Name
	}

	cleaned := false
	attempts := 1 + p.InstallRetries
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := p.run(ctx, p.PM.Bin, append(p.PM.InstallArgs, pkg)...); err != nil {
			lastErr = err
			p.log.Warn("package install failed", "tool", t.Name, "attempt", i+1, "error", err)
			if !cleaned {
				// A corrupted cache is the most common recoverable cause;
				// clear it once before retrying.
				cleaned = true
				_ = p.run(ctx, p.PM.Bin, p.PM.CleanArgs...)
			}
			continue
		}
		if _, err := p.lookPath(t.Name); err == nil {
			return nil
		}
		lastErr = fmt.Errorf("%s installed but still not on PATH", t.Name)
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrDependencyUnsatisfied, t.Name, lastErr)
}

// EnsureSource clones the engine source tree, or updates it when the
// clone already exists. Idempotent.
func (p *Provisioner) EnsureSource(ctx context.Context) error {
	if _, err := os.Stat(filepath.Join(p.SourceDir, ".git")); err == nil {
		// Best-effort pull; a stale tree still builds.
		if err := p.runIn(ctx, p.SourceDir, "git", "pull", "--ff-only"); err != nil {
			p.log.Warn("source update failed, building existing tree", "error", err)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(p.SourceDir), 0o755); err != nil {
		return err
	}
	if err := p.run(ctx, "git", "clone", "--depth", "1", p.SourceRepo, p.SourceDir); err != nil {
		return fmt.Errorf("clone engine source: %w", err)
	}
	return nil
}

// Build runs the cmake configure + build. A build failure is fatal to
// the caller: there is no point continuing to model acquisition with no
// working engine.
func (p *Provisioner) Build(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.BuildTimeout)
	defer cancel()

	buildDir := filepath.Join(p.SourceDir, "build")
	if err := p.runIn(ctx, p.SourceDir, "cmake", "-B", buildDir, "-DCMAKE_BUILD_TYPE=Release"); err != nil {
		return fmt.Errorf("%w: configure: %v", domain.ErrBuildFailed, err)
	}
	if err := p.runIn(ctx, p.SourceDir, "cmake", "--build", buildDir, "--config", "Release", "-j"); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBuildFailed, err)
	}
	return nil
}

// BuildDirs returns the directories a fresh build drops binaries into,
// in the order the resolver should scan them.
func (p *Provisioner) BuildDirs() []string {
	return []string{
		filepath.Join(p.SourceDir, "build", "bin"),
		filepath.Join(p.SourceDir, "build"),
	}
}

func (p *Provisioner) run(ctx context.Context, bin string, args ...string) error {
	return p.runIn(ctx, "", bin, args...)
}

func (p *Provisioner) runIn(ctx context.Context, dir, bin string, args ...string) error {
	out := &limitedBuffer{max: 8192}
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir
	cmd.Stdout = out
	cmd.Stderr = out
	if err := cmd.Run(); err != nil {
		tail := strings.TrimSpace(out.String())
		if tail != "" {
			return fmt.Errorf("%s %s: %w\n%s", bin, strings.Join(args, " "), err, lastLines(tail, 10))
		}
		return fmt.Errorf("%s %s: %w", bin, strings.Join(args, " "), err)
	}
	return nil
}
