// Package cli wires the tabwarden commands.
package cli

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	DBPath    string
	PrefsPath string
	Verbose   bool
}

// NewRootCommand creates the root command for the tabwarden CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "tabwarden",
		Short: "tabwarden - browser tab discard engine",
		Long: "Native host that identifies idle and site-matched browser tabs to unload\n" +
			"from memory, tracking local-only tab telemetry to tune the decision.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(opts.Verbose)
			if opts.DBPath == "" {
				opts.DBPath = defaultPath("telemetry.db")
			}
			if opts.PrefsPath == "" {
				opts.PrefsPath = defaultPath("prefs.yaml")
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", "", "telemetry database path")
	cmd.PersistentFlags().StringVar(&opts.PrefsPath, "prefs", "", "preferences file path")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewSweepCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))
	cmd.AddCommand(NewClearCommand(opts))

	return cmd
}

// setupLogging configures slog. Logs go to stderr unconditionally: stdout
// belongs to the native-messaging protocol in serve mode.
func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// defaultPath places data files under the user config dir, falling back to
// the working directory when none is resolvable.
func defaultPath(name string) string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return name
	}
	return filepath.Join(dir, "tabwarden", name)
}
