package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tabwarden/tabwarden/internal/config"
	"github.com/tabwarden/tabwarden/internal/retention"
	"github.com/tabwarden/tabwarden/internal/store"
	"github.com/tabwarden/tabwarden/internal/tab"
)

// NewSweepCommand creates the sweep command: one retention purge.
func NewSweepCommand(opts *RootOptions) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Purge telemetry older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			if days < 0 {
				prefs, err := config.LoadPrefs(opts.PrefsPath)
				if err != nil {
					return err
				}
				days = prefs.Settings().DataRetentionDays
			}

			st, err := store.Open(cmd.Context(), opts.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()

			res, err := retention.New(st, tab.SystemClock()).Purge(cmd.Context(), days)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d events, %d discard batches (retention %dd)\n",
				res.Events, res.Batches, days)
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", -1, "retention window override in days")

	return cmd
}
