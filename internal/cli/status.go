package cli

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/mkwei/actionsync/internal/authority"
)

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:          "status",
		Short:        "Show device and authority status",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, _, err := openDevice(rootOpts, serverURL)
			if err != nil {
				return err
			}
			defer engine.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "origin:    %s\n", engine.Origin())
			fmt.Fprintf(out, "pending:   %d\n", engine.Queue().Len())
			fmt.Fprintf(out, "watermark: %s\n", engine.Cursor().String())

			resp, err := http.Get(serverURL + "/api/stats")
			if err != nil {
				fmt.Fprintf(out, "authority: unreachable (%v)\n", err)
				return nil
			}
			defer resp.Body.Close()

			var stats authority.Stats
			if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
				return fmt.Errorf("decode authority stats: %w", err)
			}

			fmt.Fprintf(out, "authority: %d record(s) from %d origin(s), latest %s\n",
				stats.Total, len(stats.ByOrigin), stats.LatestID)
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", DefaultServerURL, "log authority base URL")

	return cmd
}
