package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/slush-dev/pushconsent/analytics"
	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List recorded consent events",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		events, err := analytics.ReadEvents(a.Events.Path())
		if err != nil {
			return fmt.Errorf("reading events: %w", err)
		}

		if useYAML {
			out := make([]map[string]string, 0, len(events))
			for _, ev := range events {
				out = append(out, map[string]string{
					"id":   ev.ID,
					"kind": string(ev.Kind),
					"at":   ev.At.Format(time.RFC3339),
				})
			}
			yamlOut(cmd.OutOrStdout(), out)
			return nil
		}

		if len(events) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No consent events recorded.")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tKIND\tID")
		for _, ev := range events {
			fmt.Fprintf(w, "%s\t%s\t%s\n", ev.At.Local().Format("2006-01-02 15:04:05"), ev.Kind, ev.ID)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
}
