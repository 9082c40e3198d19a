package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Replay a registration request that previously failed",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		replayed, err := a.Client.RetryPendingRegistration(cmd.Context())
		if err != nil {
			return fmt.Errorf("flushing pending registration: %w", err)
		}

		if useYAML {
			yamlOut(cmd.OutOrStdout(), map[string]bool{"replayed": replayed})
		} else if replayed {
			fmt.Fprintln(cmd.OutOrStdout(), "Pending registration replayed.")
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "No pending registration.")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(flushCmd)
}
