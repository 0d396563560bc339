package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mkwei/actionsync/internal/logging"
	"github.com/mkwei/actionsync/internal/sync/scheduler"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		serverURL string
		watch     bool
		interval  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile with the log authority",
		Long: `Run one sync round: push this device's pending events, receive every
other device's new events, and print them in replay order. With --watch the
command keeps running and syncs periodically until interrupted.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, _, err := openDevice(rootOpts, serverURL)
			if err != nil {
				return err
			}
			defer engine.Close()

			enc := json.NewEncoder(cmd.OutOrStdout())
			engine.SetRemoteHandler(func(payloads []map[string]any) error {
				for _, p := range payloads {
					if err := enc.Encode(p); err != nil {
						return err
					}
				}
				return nil
			})

			if !watch {
				result, err := engine.Sync(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "sent %d, received %d, watermark %s\n",
					result.Sent, result.Received, result.Watermark)
				return nil
			}

			sched := scheduler.New(engine, &scheduler.Config{
				SyncInterval: interval,
				Debounce:     time.Second,
			})
			engine.SetDispatchListener(sched.Notify)

			sched.Start(cmd.Context())
			sched.TriggerSync(cmd.Context())

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			logging.Info("Shutting down auto-sync", nil)
			sched.Stop()
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", DefaultServerURL, "log authority base URL")
	cmd.Flags().BoolVar(&watch, "watch", false, "keep syncing periodically")
	cmd.Flags().DurationVar(&interval, "interval", 30*time.Second, "auto-sync interval with --watch")

	return cmd
}
