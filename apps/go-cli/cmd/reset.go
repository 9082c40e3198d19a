package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Discard the persisted session (app data reset)",
	Long: `Discard the persisted session as an app data reset would. The next
command starts as a fresh install with a new installation ID. Nothing is sent
to the backend.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("yes")
		if !confirm {
			fmt.Fprint(cmd.OutOrStdout(), "Discard the session? (y/N): ")
			var response string
			fmt.Fscanln(cmd.InOrStdin(), &response)
			if response != "y" && response != "yes" {
				fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
				return nil
			}
		}

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Store.Reset(cmd.Context()); err != nil {
			return fmt.Errorf("resetting session: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Session reset. New installation ID: %s\n", a.Store.InstallationID())
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolP("yes", "y", false, "Skip confirmation prompt")
	rootCmd.AddCommand(resetCmd)
}
