// Command graphmig applies a changelog of migration changesets to a
// SQLite database.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/graphmig/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		// Commands report their own errors; flag and usage errors are not.
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
