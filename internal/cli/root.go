// Package cli implements the ai command-line interface using Cobra.
// The bare invocation `ai <prompt>` routes a single prompt; subcommands
// cover install, repair, update, history, and the status server.
package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aide-sh/aide/internal/config"
	"github.com/aide-sh/aide/internal/domain"
	"github.com/aide-sh/aide/internal/infra/fetch"
	"github.com/aide-sh/aide/internal/infra/state"
	"github.com/aide-sh/aide/internal/router"
	"github.com/aide-sh/aide/internal/selfupdate"
	"github.com/aide-sh/aide/internal/supervisor"
)

var rootCmd = &cobra.Command{
	Use:   "ai [prompt]",
	Short: "Aide — a self-installing local AI assistant",
	Long: `Aide runs a local AI assistant behind a single command.
The first invocation installs everything it needs (build tools, the
inference engine, a model) and repairs itself on later runs when any
piece goes missing.

Ask anything:     ai how do I find my largest files
Request a script: ai write a script that backs up my photos`,
	Args:          cobra.ArbitraryArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// RunE is assigned in init to break the initialization cycle
// rootCmd -> runRoot -> maybeSelfUpdate -> rootCmd.
func init() {
	rootCmd.RunE = runRoot
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func runRoot(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return cmd.Help()
	}
	prompt := strings.Join(args, " ")
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	app, err := bootstrap(true)
	if err != nil {
		return err
	}
	defer app.Close()

	// A successful update replaces this process and never returns.
	maybeSelfUpdate(ctx, app.Cfg, args)

	if err := ensureHealthy(ctx, app); err != nil {
		return err
	}

	rt := router.New(app.Store, app.Cfg.Router)
	reply, _, err := rt.Ask(ctx, prompt)
	if err != nil {
		return err
	}
	fmt.Println(reply)
	return nil
}

// ─── Shared Bootstrap ───────────────────────────────────────────────────────

// app bundles the resources every command needs.
type app struct {
	Cfg   config.Config
	Store *state.Store

	lock     *state.Lock
	closeLog func()
}

// bootstrap loads config, sets up logging, and opens the state store.
// Commands that mutate installation state take the advisory lock so
// two concurrent invocations cannot interleave repairs.
func bootstrap(lock bool) (*app, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	closeLog := config.SetupLogging(cfg.Logging)

	a := &app{Cfg: cfg, closeLog: closeLog}
	home := config.Home()
	if err := os.MkdirAll(home, 0o700); err != nil {
		closeLog()
		return nil, err
	}

	if lock {
		l, err := state.AcquireLock(home)
		if err != nil {
			closeLog()
			return nil, err
		}
		a.lock = l
	}

	st, err := state.Open(home)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Store = st
	return a, nil
}

func (a *app) Close() {
	if a.Store != nil {
		a.Store.Close()
	}
	if a.lock != nil {
		a.lock.Release()
	}
	if a.closeLog != nil {
		a.closeLog()
	}
}

// ensureHealthy brings the installation to Healthy before a prompt is
// served. A fresh machine gets the full install; a degraded one gets
// targeted repairs.
func ensureHealthy(ctx context.Context, a *app) error {
	phase, err := a.Store.Phase()
	if err != nil {
		return err
	}
	if phase == domain.Healthy {
		return nil
	}

	sup := supervisor.New(a.Cfg, a.Store)
	sup.Version = rootCmd.Version
	sup.Progress = newProgressBar().callback

	var report *supervisor.Report
	if phase == domain.Uninstalled {
		fmt.Fprintln(os.Stderr, "First run: installing Aide. This can take a while.")
		report, err = sup.Install(ctx)
	} else {
		fmt.Fprintln(os.Stderr, "Installation is degraded, repairing.")
		report, err = sup.Doctor(ctx)
	}
	if err != nil {
		return err
	}
	printSummary(os.Stderr, report)
	return nil
}

// maybeSelfUpdate checks the remote feed and, if a newer installer is
// published, replaces the running binary and re-executes with the same
// arguments. Every failure path degrades to running the current build.
func maybeSelfUpdate(ctx context.Context, cfg config.Config, args []string) {
	if cfg.Update.Disabled || rootCmd.Version == "dev" {
		return
	}
	up := selfupdate.New(fetch.New(), rootCmd.Version, cfg.Update.FeedURL, cfg.Update.VersionURL, config.BackupDir())
	up.Check(ctx, args)
}
