package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aide-sh/aide/internal/config"
	"github.com/aide-sh/aide/internal/infra/state"
	"github.com/aide-sh/aide/internal/supervisor"
)

func init() {
	installCmd.Flags().BoolVar(&installClean, "clean", false, "Archive existing state and reinstall from scratch")
	rootCmd.AddCommand(installCmd)
}

var installClean bool

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install or repair the assistant",
	Long: `Walk the installation forward: build tools, the inference engine,
the model, optional features, and the resident wrapper. Steps already
completed are verified and skipped, so re-running is cheap.`,
	RunE: runInstall,
}

func runInstall(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if installClean {
		archived, err := state.Archive(config.Home(), config.BackupDir())
		if err != nil {
			return fmt.Errorf("archive state: %w", err)
		}
		if archived != "" {
			fmt.Fprintf(os.Stderr, "Previous state archived to %s\n", archived)
		}
	}

	app, err := bootstrap(true)
	if err != nil {
		return err
	}
	defer app.Close()

	sup := supervisor.New(app.Cfg, app.Store)
	sup.Version = rootCmd.Version
	sup.Progress = newProgressBar().callback

	report, err := sup.Install(ctx)
	if report != nil {
		printSummary(os.Stderr, report)
	}
	return err
}
