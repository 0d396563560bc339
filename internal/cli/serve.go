package cli

import (
	"github.com/spf13/cobra"

	"github.com/mkwei/actionsync/internal/authority"
	"github.com/mkwei/actionsync/internal/server"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		addr   string
		dbPath string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the log authority server",
		Long: `Run the shared log authority. Devices push their pending events here
and receive everyone else's in return. With --db the log is persisted in
SQLite; without it the log lives in memory and dies with the process.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var store authority.Store
			if dbPath != "" {
				s, err := authority.OpenSQLite(dbPath)
				if err != nil {
					return err
				}
				store = s
			} else {
				store = authority.NewMemoryStore()
			}

			auth := authority.New(store)
			defer auth.Close()

			return server.New(auth).ListenAndServe(addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8090", "listen address")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite log database path (in-memory log when empty)")

	return cmd
}
