// Package cli wires the action log into a command-line tool: a log authority
// server plus device-side commands operating on a local state file.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/mkwei/actionsync/internal/logging"
	"github.com/mkwei/actionsync/internal/storage"
	syncpkg "github.com/mkwei/actionsync/internal/sync"
)

// DefaultServerURL is where device commands look for the log authority.
const DefaultServerURL = "http://localhost:8090"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	State   string // device state file
}

// NewRootCommand creates the root command for the actionsync CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "actionsync",
		Short: "Event-sourced action log",
		Long: `Record locally-generated events, reconcile them with a shared log
authority, and observe every other device's events exactly once in
deterministic order.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := logging.LevelInfo
			if opts.Verbose {
				level = logging.LevelDebug
			}
			// Logs go to stderr so JSON output stays clean.
			logging.Init(os.Stderr, level)
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.State, "state", "actionsync.json", "device state file")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewDispatchCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))

	return cmd
}

// openDevice builds the device engine over the persisted state file.
func openDevice(opts *RootOptions, serverURL string) (*syncpkg.Engine, storage.Store, error) {
	store, err := storage.NewFileStore(opts.State)
	if err != nil {
		return nil, nil, err
	}

	cfg := syncpkg.DefaultConfig()
	cfg.Storage = store
	engine := syncpkg.New(cfg, syncpkg.NewHTTPTransport(serverURL))
	return engine, store, nil
}

// saveDevice persists the engine's current state explicitly, for commands
// that mutate state outside Dispatch/Sync.
func saveDevice(engine *syncpkg.Engine, store storage.Store) error {
	return store.Save(&storage.State{
		Origin:    engine.Origin(),
		Watermark: engine.Cursor().String(),
		Records:   engine.Queue().Snapshot(),
	})
}
