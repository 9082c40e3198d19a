package cmd

import (
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the persisted consent and registration state",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if useYAML {
			yamlOut(cmd.OutOrStdout(), a.Status())
		} else {
			printStatus(cmd.OutOrStdout(), a.Status())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
