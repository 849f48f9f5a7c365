// Package supervisor coordinates install and repair transitions:
//
//	Uninstalled → DependenciesOk → EngineOk → ModelOk → FeaturesOk →
//	WrapperOk → Healthy
//
// Install drives uncompleted steps forward in order. Doctor evaluates
// each step's precondition independently and re-runs only the failed
// ones, so recovering from a single missing artifact costs just that
// artifact's acquisition. Every step commits its result to the state
// store on completion — interrupting the process leaves a recoverable
// intermediate state, never a worse one.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aide-sh/aide/internal/config"
	"github.com/aide-sh/aide/internal/domain"
	"github.com/aide-sh/aide/internal/infra/engine"
	"github.com/aide-sh/aide/internal/infra/features"
	"github.com/aide-sh/aide/internal/infra/fetch"
	"github.com/aide-sh/aide/internal/infra/metrics"
	"github.com/aide-sh/aide/internal/infra/model"
	"github.com/aide-sh/aide/internal/infra/state"
)

// Supervisor owns the installation state machine.
type Supervisor struct {
	Cfg      config.Config
	Store    *state.Store
	Fetcher  *fetch.Fetcher
	Prov     *engine.Provisioner
	Resolver *engine.Resolver
	Models   *model.Acquirer
	Features *features.Loader

	// Progress receives step status for the CLI, may be nil.
	Progress func(status string, pct float64)

	// Version is the running binary's version, recorded in the state
	// store when an install completes.
	Version string

	log *slog.Logger
}

// New wires a Supervisor from configuration. The package manager is
// detected lazily during the dependency step, not here, so a read-only
// health check works on systems without one.
func New(cfg config.Config, st *state.Store) *Supervisor {
	f := fetch.New()
	f.Token = os.Getenv("AIDE_HF_TOKEN")

	prov := engine.NewProvisioner(nil, cfg.Engine.SourceRepo, cfg.Engine.SourceDir)
	searchDirs := append([]string{config.BinDir()}, prov.BuildDirs()...)
	res := engine.NewResolver(cfg.Engine.Candidates, searchDirs, cfg.Engine.SmokeFlag)

	s := &Supervisor{
		Cfg:      cfg,
		Store:    st,
		Fetcher:  f,
		Prov:     prov,
		Resolver: res,
		Models:   model.NewAcquirer(f, st, cfg.Model.Dir),
		Features: features.NewLoader(f, st, cfg.Features.BaseURL, cfg.Features.Dir),
		log:      slog.With("component", "supervisor"),
	}
	s.Models.URLOverride = cfg.Model.URL
	s.Models.Smoke = s.modelSmoke
	if cfg.Features.TimeoutSec > 0 {
		s.Features.Timeout = time.Duration(cfg.Features.TimeoutSec) * time.Second
	}
	return s
}

// ─── Steps ──────────────────────────────────────────────────────────────────

// step is one unit of the state machine: a cheap precondition check
// and the repair that establishes it. Only the supervisor decides
// whether a repair failure is fatal for the run.
type step struct {
	name   string
	phase  domain.InstallPhase
	verify func(ctx context.Context) error
	repair func(ctx context.Context) error
	// fatal marks steps whose repair failure aborts the run.
	fatal bool
}

func (s *Supervisor) steps() []step {
	return []step{
		{name: "dependencies", phase: domain.DependenciesOk, verify: s.verifyDependencies, repair: s.repairDependencies, fatal: true},
		{name: "engine", phase: domain.EngineOk, verify: s.verifyEngine, repair: s.repairEngine, fatal: true},
		{name: "model", phase: domain.ModelOk, verify: s.verifyModel, repair: s.repairModel, fatal: true},
		{name: "features", phase: domain.FeaturesOk, verify: s.verifyFeatures, repair: s.repairFeatures, fatal: false},
		{name: "wrapper", phase: domain.WrapperOk, verify: s.verifyWrapper, repair: s.repairWrapper, fatal: true},
	}
}

// ─── Reports ────────────────────────────────────────────────────────────────

// StepResult records one step of an install or doctor pass.
type StepResult struct {
	Step     string        `json:"step"`
	Repaired bool          `json:"repaired"`
	Healthy  bool          `json:"healthy"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Report summarizes a full pass.
type Report struct {
	ID             string       `json:"id"`
	Steps          []StepResult `json:"steps"`
	Phase          string       `json:"phase"`
	FailedFeatures []string     `json:"failed_features,omitempty"`
}

// Healthy reports whether every step ended healthy.
func (r *Report) Healthy() bool {
	for _, s := range r.Steps {
		if !s.Healthy {
			return false
		}
	}
	return len(r.Steps) > 0
}

// ─── Install ────────────────────────────────────────────────────────────────

// Install drives the state machine to Healthy. Steps whose phase is
// already committed and whose precondition still holds are skipped
// entirely — re-running against a Healthy installation touches neither
// the network nor the build tree. Each success is committed before the
// next step starts.
func (s *Supervisor) Install(ctx context.Context) (*Report, error) {
	report := &Report{ID: uuid.NewString()}
	phase, err := s.Store.Phase()
	if err != nil {
		return report, err
	}

	for _, st := range s.steps() {
		res, err := s.runStep(ctx, st, phase >= st.phase)
		report.Steps = append(report.Steps, res)
		if err != nil {
			report.Phase = phaseString(s.Store)
			if st.fatal {
				return report, fmt.Errorf("install step %s: %w", st.name, err)
			}
			s.log.Warn("non-fatal step failed, continuing", "step", st.name, "error", err)
			continue
		}
		if phase < st.phase {
			phase = st.phase
			if err := s.Store.SetPhase(phase); err != nil {
				return report, err
			}
		}
	}

	if err := s.Store.SetPhase(domain.Healthy); err != nil {
		return report, err
	}
	if err := s.Store.SetInstalledVersion(s.Version); err != nil {
		return report, err
	}
	report.Phase = domain.Healthy.String()
	s.collectFailedFeatures(report)
	return report, nil
}

// Doctor evaluates every precondition independently and repairs only
// the failed ones. A Healthy verdict requires all steps to pass after
// at most one repair each.
func (s *Supervisor) Doctor(ctx context.Context) (*Report, error) {
	report := &Report{ID: uuid.NewString()}
	allHealthy := true

	for _, st := range s.steps() {
		res, err := s.runStep(ctx, st, true)
		report.Steps = append(report.Steps, res)
		if err != nil {
			allHealthy = false
			if st.fatal {
				report.Phase = phaseString(s.Store)
				return report, fmt.Errorf("health check step %s: %w", st.name, err)
			}
		}
	}

	if allHealthy {
		if err := s.Store.SetPhase(domain.Healthy); err != nil {
			return report, err
		}
	}
	report.Phase = phaseString(s.Store)
	s.collectFailedFeatures(report)
	return report, nil
}

// runStep verifies, then repairs and re-verifies on failure.
// verifyFirst is false for steps the install has not reached yet —
// those always run their repair (which is itself idempotent).
func (s *Supervisor) runStep(ctx context.Context, st step, verifyFirst bool) (StepResult, error) {
	start := time.Now()
	res := StepResult{Step: st.name}

	if verifyFirst {
		err := st.verify(ctx)
		if err == nil {
			res.Healthy = true
			res.Duration = time.Since(start)
			return res, nil
		}
		s.log.Info("step precondition failed, repairing", "step", st.name, "error", err)
		metrics.Repairs.WithLabelValues(st.name).Inc()
	}

	s.progress(fmt.Sprintf("ensuring %s", st.name), 0)
	res.Repaired = true
	err := st.repair(ctx)
	if err == nil {
		err = st.verify(ctx)
	}
	res.Duration = time.Since(start)
	metrics.StepDuration.WithLabelValues(st.name).Observe(res.Duration.Seconds())

	if err != nil {
		kind := domain.OutcomeRetryable
		if st.fatal {
			kind = domain.OutcomeFatal
		}
		metrics.StepFailures.WithLabelValues(st.name, kind.String()).Inc()
		res.Error = err.Error()
		return res, domain.Outcome{Kind: kind, Err: err}
	}
	res.Healthy = true
	return res, nil
}

// ─── Step Implementations ───────────────────────────────────────────────────

func (s *Supervisor) verifyDependencies(ctx context.Context) error {
	deps, err := s.Store.Dependencies()
	if err != nil {
		return err
	}
	for _, t := range engine.DefaultTools() {
		if !t.Required {
			continue
		}
		if !deps[t.Name] {
			return fmt.Errorf("%s not recorded as satisfied", t.Name)
		}
	}
	return nil
}

func (s *Supervisor) repairDependencies(ctx context.Context) error {
	if s.Prov.PM == nil {
		pm, err := engine.DetectPackageManager()
		if err != nil {
			// Tools may still all be present without a package manager;
			// EnsureTool only needs one when something is missing.
			s.log.Warn("no package manager detected", "error", err)
		}
		s.Prov.PM = pm
	}

	var fatal error
	for _, t := range engine.DefaultTools() {
		err := s.Prov.EnsureTool(ctx, t)
		if recErr := s.Store.SetDependency(t.Name, err == nil); recErr != nil {
			return recErr
		}
		if err != nil {
			if t.Required {
				fatal = err
			} else {
				s.log.Warn("optional tool unsatisfied", "tool", t.Name, "error", err)
			}
		}
	}
	return fatal
}

func (s *Supervisor) verifyEngine(ctx context.Context) error {
	path, err := s.Store.EnginePath()
	if err != nil {
		return err
	}
	if path == "" {
		return errors.New("no engine binary recorded")
	}
	// Staleness is detected, not assumed fixed: the recorded path must
	// still pass the smoke test right now.
	return s.Resolver.Validate(ctx, path)
}

func (s *Supervisor) repairEngine(ctx context.Context) error {
	// A previous build (or a system install) may already satisfy us.
	if path, err := s.Resolver.Resolve(ctx); err == nil {
		return s.Store.SetEnginePath(path)
	}

	s.progress("building inference engine (this can take a while)", 0)
	if err := s.Prov.EnsureSource(ctx); err != nil {
		return err
	}
	if err := s.Prov.Build(ctx); err != nil {
		return err
	}

	path, err := s.Resolver.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrNoWorkingBinary, err)
	}
	return s.Store.SetEnginePath(path)
}

func (s *Supervisor) verifyModel(ctx context.Context) error {
	sel, err := s.Store.Model()
	if err != nil {
		return err
	}
	if sel.Status != domain.ModelVerified {
		return fmt.Errorf("model %q status is %s", sel.Name, sel.Status)
	}
	info, err := os.Stat(sel.Path)
	if err != nil {
		return fmt.Errorf("model file: %w", err)
	}
	if info.Size() == 0 {
		return domain.ErrModelEmpty
	}
	return nil
}

func (s *Supervisor) repairModel(ctx context.Context) error {
	s.Models.Progress = s.Progress
	_, err := s.Models.Ensure(ctx, s.Cfg.Model.Name)
	return err
}

// modelSmoke runs one real inference through the resolved engine and
// requires non-empty output. Presence alone never marks a model
// verified.
func (s *Supervisor) modelSmoke(ctx context.Context, modelPath string) error {
	enginePath, err := s.Store.EnginePath()
	if err != nil {
		return err
	}
	if enginePath == "" {
		return domain.ErrNoWorkingBinary
	}
	out, err := engine.Invoke(ctx, enginePath, modelPath, "Say OK.", engine.InvokeOptions{
		MaxTokens: 8,
		Timeout:   5 * time.Minute,
	})
	if err != nil {
		return err
	}
	if strings.TrimSpace(out) == "" {
		return errors.New("inference produced no output")
	}
	return nil
}

func (s *Supervisor) verifyFeatures(ctx context.Context) error {
	recs, err := s.Store.Features()
	if err != nil {
		return err
	}
	for _, r := range recs {
		if r.Status == domain.FeatureFailed {
			return fmt.Errorf("feature %s recorded as failed", r.Name)
		}
	}
	return nil
}

func (s *Supervisor) repairFeatures(ctx context.Context) error {
	sum, err := s.Features.Sync(ctx)
	if err != nil {
		return err
	}
	if len(sum.Failed) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrFeatureFailed, strings.Join(sum.Failed, ", "))
	}
	return nil
}

func (s *Supervisor) verifyWrapper(ctx context.Context) error {
	path, err := s.Store.WrapperPath()
	if err != nil {
		return err
	}
	if path == "" {
		return errors.New("wrapper not installed")
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("wrapper: %w", err)
	}
	if runtime.GOOS != "windows" && info.Mode()&0o111 == 0 {
		return fmt.Errorf("wrapper %s is not executable", path)
	}
	return nil
}

// repairWrapper installs the running executable as the resident entry
// point. The compiled router replaces the generated wrapper script the
// original shipped.
func (s *Supervisor) repairWrapper(ctx context.Context) error {
	self, err := os.Executable()
	if err != nil {
		return err
	}

	binDir := config.BinDir()
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return err
	}

	name := "ai"
	if runtime.GOOS == "windows" {
		name = "ai.exe"
	}
	dest := filepath.Join(binDir, name)

	if dest != self {
		if err := copyExecutable(self, dest); err != nil {
			return err
		}
	}
	return s.Store.SetWrapperPath(dest)
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func (s *Supervisor) progress(status string, pct float64) {
	if s.Progress != nil {
		s.Progress(status, pct)
	}
}

func (s *Supervisor) collectFailedFeatures(report *Report) {
	recs, err := s.Store.Features()
	if err != nil {
		return
	}
	for _, r := range recs {
		if r.Status == domain.FeatureFailed {
			report.FailedFeatures = append(report.FailedFeatures, r.Name)
		}
	}
}

func phaseString(st *state.Store) string {
	p, err := st.Phase()
	if err != nil {
		return domain.Uninstalled.String()
	}
	return p.String()
}

// copyExecutable writes src to a temp file beside dst, then renames.
func copyExecutable(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
