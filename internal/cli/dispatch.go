package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mkwei/actionsync/internal/errors"
)

// NewDispatchCommand creates the dispatch command.
func NewDispatchCommand(rootOpts *RootOptions) *cobra.Command {
	var dedupKeys []string

	cmd := &cobra.Command{
		Use:   "dispatch <payload-json>",
		Short: "Append an event to the local queue",
		Long: `Append an event payload to this device's pending queue. The event is
transmitted on the next sync round. With --dedup, pending events matching the
new payload on all listed keys are replaced by it.`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload map[string]any
			if err := json.Unmarshal([]byte(args[0]), &payload); err != nil {
				return errors.Wrap(errors.ErrInvalidArgument, "payload must be a JSON object", err)
			}

			engine, _, err := openDevice(rootOpts, DefaultServerURL)
			if err != nil {
				return err
			}
			defer engine.Close()

			id, err := engine.Dispatch(payload, dedupKeys...)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "dispatched %s (%d pending)\n", id, engine.Queue().Len())
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&dedupKeys, "dedup", nil, "payload keys identifying the logical entity")

	return cmd
}
