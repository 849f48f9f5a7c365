package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aide-sh/aide/internal/config"
	"github.com/aide-sh/aide/internal/infra/fetch"
	"github.com/aide-sh/aide/internal/selfupdate"
)

func init() {
	rootCmd.AddCommand(updateCmd)
}

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Update the installer to the latest published build",
	Long: `Compare the running version against the remote feed and, when the
remote is newer, back up the current binary and replace it in place.
On success the new build re-executes immediately.`,
	RunE: runUpdate,
}

func runUpdate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	closeLog := config.SetupLogging(cfg.Logging)
	defer closeLog()

	up := selfupdate.New(fetch.New(), rootCmd.Version, cfg.Update.FeedURL, cfg.Update.VersionURL, config.BackupDir())
	// Re-exec with --version so the replacement proves itself and exits.
	if !up.Check(ctx, []string{"--version"}) {
		fmt.Fprintf(os.Stderr, "Already up to date (%s).\n", rootCmd.Version)
	}
	return nil
}
