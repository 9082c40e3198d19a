package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token <device-token>",
	Short: "Apply a device token delivered by the platform",
	Long: `Apply a device token delivered by the platform. A first token is
registered; a repeated token is ignored; a new token unregisters the old one
and registers the new one once the unregister completes. The command waits
for that sequence (bounded by PUSHCONSENT_UNREGISTER_TIMEOUT) before exiting.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Client.HandleToken(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("handling token: %w", err)
		}
		if err := a.Settle(cmd.Context()); err != nil {
			return fmt.Errorf("waiting for token change: %w", err)
		}

		state := a.Store.Snapshot()
		if useYAML {
			yamlOut(cmd.OutOrStdout(), map[string]any{
				"device_token":           state.DeviceToken,
				"registration_succeeded": state.RegistrationSucceeded,
			})
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "Device token: %s\nRegistered:   %s\n",
				state.DeviceToken, yesNo(state.RegistrationSucceeded))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
}
