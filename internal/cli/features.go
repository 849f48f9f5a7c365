package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(featuresCmd)
}

var featuresCmd = &cobra.Command{
	Use:   "features",
	Short: "List installed optional features",
	RunE:  runFeatures,
}

func runFeatures(cmd *cobra.Command, args []string) error {
	app, err := bootstrap(false)
	if err != nil {
		return err
	}
	defer app.Close()

	recs, err := app.Store.Features()
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Println("No optional features installed.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "INDEX\tNAME\tSTATUS\tINSTALLED")
	for _, r := range recs {
		installed := "-"
		if !r.InstalledAt.IsZero() {
			installed = r.InstalledAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", r.Index, r.Name, r.Status, installed)
	}
	return w.Flush()
}
