package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mkwei/actionsync/internal/transfer"
)

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <document-file>",
		Short: "Replay a transfer document",
		Long: `Read a transfer document exported by another device and print its
payloads in deterministic replay order. Importing never touches this device's
own pending queue; it only advances the watermark when the document's is
newer.`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read document: %w", err)
			}

			engine, store, err := openDevice(rootOpts, DefaultServerURL)
			if err != nil {
				return err
			}
			defer engine.Close()

			payloads, err := transfer.NewImporter(engine.Cursor()).Import(data)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, p := range payloads {
				if err := enc.Encode(p); err != nil {
					return err
				}
			}

			// The import may have advanced the watermark; persist it.
			if err := saveDevice(engine, store); err != nil {
				return err
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "imported %d record(s)\n", len(payloads))
			return nil
		},
	}

	return cmd
}
