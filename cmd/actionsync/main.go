// Command actionsync runs the action log CLI: the log authority server and
// the device-side dispatch/sync/transfer commands.
package main

import (
	"os"

	"github.com/mkwei/actionsync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
