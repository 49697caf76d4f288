package cli

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/tabwarden/tabwarden/internal/store"
	"github.com/tabwarden/tabwarden/internal/tab"
)

// NewExportCommand creates the export command: dump all telemetry as JSON.
func NewExportCommand(opts *RootOptions) *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export all telemetry as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(cmd.Context(), opts.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()

			export, err := st.ExportAll(cmd.Context(), tab.Millis(tab.SystemClock().Now()))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}

			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(export)
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "", "output file (default stdout)")

	return cmd
}
