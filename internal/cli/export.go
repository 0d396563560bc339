package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mkwei/actionsync/internal/transfer"
)

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export pending events as a transfer document",
		Long: `Snapshot this device's pending events and watermark into a transfer
document for out-of-band delivery. Exporting never clears the queue, so the
command is safe to repeat until the transfer is confirmed.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, _, err := openDevice(rootOpts, DefaultServerURL)
			if err != nil {
				return err
			}
			defer engine.Close()

			doc, err := transfer.NewExporter(engine.Queue(), engine.Cursor()).Export()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return fmt.Errorf("create export file: %w", err)
				}
				defer f.Close()
				out = f
			}

			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(doc); err != nil {
				return err
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "exported %d record(s) from %s\n", len(doc.Records), doc.Origin)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write the document to a file instead of stdout")

	return cmd
}
