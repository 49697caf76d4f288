package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tabwarden/tabwarden/internal/config"
	"github.com/tabwarden/tabwarden/internal/store"
)

// NewStatsCommand creates the stats command: record counts and the current
// policy summary.
func NewStatsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show telemetry counts and policy settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			prefs, err := config.LoadPrefs(opts.PrefsPath)
			if err != nil {
				return err
			}

			st, err := store.Open(cmd.Context(), opts.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()

			counts, err := st.Count(cmd.Context())
			if err != nil {
				return err
			}

			cfg := prefs.Settings()
			last := prefs.LastRun()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "events:           %d\n", counts.Events)
			fmt.Fprintf(out, "metadata records: %d\n", counts.Metadata)
			fmt.Fprintf(out, "discard batches:  %d\n", counts.Batches)
			fmt.Fprintf(out, "auto discard:     %v\n", cfg.AutoDiscardEnabled)
			fmt.Fprintf(out, "interval:         %dm\n", cfg.DiscardIntervalMinutes)
			fmt.Fprintf(out, "idle threshold:   %dh\n", cfg.IdleTabThresholdHours)
			fmt.Fprintf(out, "retention:        %dd\n", cfg.DataRetentionDays)
			fmt.Fprintf(out, "target sites:     %d\n", len(cfg.TargetSites))
			if last.Timestamp > 0 {
				fmt.Fprintf(out, "last run:         %s (%d discarded)\n",
					time.UnixMilli(last.Timestamp).Format(time.RFC3339), last.DiscardedCount)
			}
			return nil
		},
	}
}
