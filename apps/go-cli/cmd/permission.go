package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var permissionCmd = &cobra.Command{
	Use:   "permission",
	Short: "Apply a notification permission decision",
	Long: `Apply the operating system's answer to a notification authorization
request. Exactly one of --granted or --denied is required. --error records a
platform error reported alongside the decision; it is logged and does not
change how the decision is applied.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		granted, _ := cmd.Flags().GetBool("granted")
		denied, _ := cmd.Flags().GetBool("denied")
		platformErr, _ := cmd.Flags().GetString("error")
		if granted == denied {
			return fmt.Errorf("exactly one of --granted or --denied is required")
		}

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		var authErr error
		if platformErr != "" {
			authErr = errors.New(platformErr)
		}
		outcome, err := a.Client.HandleAuthorization(cmd.Context(), granted, authErr)
		if err != nil {
			return fmt.Errorf("reconciling permission: %w", err)
		}

		state := a.Store.Snapshot()
		if useYAML {
			yamlOut(cmd.OutOrStdout(), map[string]any{
				"outcome": outcome.String(),
				"consent": string(state.Consent),
			})
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "Outcome: %s\nConsent: %s\n", outcome, state.Consent)
		}
		return nil
	},
}

func init() {
	permissionCmd.Flags().Bool("granted", false, "The user allowed notifications")
	permissionCmd.Flags().Bool("denied", false, "The user rejected notifications")
	permissionCmd.Flags().String("error", "", "Platform error reported with the decision")
	rootCmd.AddCommand(permissionCmd)
}
