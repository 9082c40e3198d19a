package cmd

import (
	"log/slog"
	"os"

	"github.com/slush-dev/pushconsent/apps/go-cli/internal/app"
	"github.com/slush-dev/pushconsent/apps/go-cli/internal/mcpserver"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start an MCP (Model Context Protocol) server on stdio",
	Long: `Start an MCP server that exposes the consent reconciler as tools and the
persisted session as resources.

Unlike one-shot commands, the server keeps running, so a token change finishes
in the background while later calls are served. The server communicates via
JSON-RPC over stdin/stdout.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

		a, err := app.Open(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		s := mcpserver.New(a, rootCmd.Version, logger)
		return s.Run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
