package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/slush-dev/pushconsent/apps/go-cli/internal/app"
	"github.com/spf13/cobra"
)

var (
	sessionDir string
	storeKind  string
	baseURL    string
	verbose    bool
	useYAML    bool

	cfg app.Config
)

var rootCmd = &cobra.Command{
	Use:   "pushconsent",
	Short: "Push consent and device registration reconciler",
	Long: `Drive the push consent reconciler against a persisted session.

Each command loads the session from --session-dir, applies one platform event
(a permission decision or a device token) and issues the resulting register,
unregister, opt-in or opt-out calls to the messaging backend.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
		}
		loaded, err := app.LoadConfig()
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		if flags.Changed("session-dir") || loaded.SessionDir == "" {
			loaded.SessionDir = sessionDir
		}
		if flags.Changed("store") {
			loaded.Store = storeKind
		}
		if flags.Changed("base-url") {
			loaded.BaseURL = baseURL
		}
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&sessionDir, "session-dir", app.DefaultSessionDir(), "Directory holding the persisted session")
	rootCmd.PersistentFlags().StringVar(&storeKind, "store", app.StoreFile, "Session store: file or sqlite")
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "Registration API base URL")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&useYAML, "yaml", false, "Print output in YAML format instead of text")
}

// SetVersion sets the version string shown by --version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openApp opens the runtime for the current configuration.
func openApp(cmd *cobra.Command) (*app.App, error) {
	a, err := app.Open(cmd.Context(), cfg, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("opening session: %w", err)
	}
	return a, nil
}
