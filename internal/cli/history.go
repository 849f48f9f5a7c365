package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	historyCmd.Flags().BoolVar(&historyReset, "reset", false, "Clear the conversation history")
	rootCmd.AddCommand(historyCmd)
}

var historyReset bool

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show or clear the conversation log",
	RunE:  runHistory,
}

func runHistory(cmd *cobra.Command, args []string) error {
	app, err := bootstrap(historyReset)
	if err != nil {
		return err
	}
	defer app.Close()

	if historyReset {
		if err := app.Store.ResetConversation(); err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "Conversation history cleared.")
		return nil
	}

	entries, err := app.Store.Conversation()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No conversation history yet.")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("[%s] %s: %s\n", e.CreatedAt.Format("2006-01-02 15:04"), e.Role, e.Content)
	}
	return nil
}
