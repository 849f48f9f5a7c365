package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/aide-sh/aide/internal/supervisor"
)

func init() {
	rootCmd.AddCommand(doctorCmd)
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check installation health and repair failures",
	Long: `Evaluate every installation step independently and re-run only the
failed ones. A healthy installation is left untouched.`,
	RunE: runDoctor,
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	app, err := bootstrap(true)
	if err != nil {
		return err
	}
	defer app.Close()

	sup := supervisor.New(app.Cfg, app.Store)
	sup.Version = rootCmd.Version
	sup.Progress = newProgressBar().callback

	report, err := sup.Doctor(ctx)
	if report != nil {
		printSummary(os.Stderr, report)
	}
	return err
}
