// faultlog is the command line front end of the fault log store.
package main

import (
	"fmt"
	"os"

	"github.com/xtxerr/faultlogger/internal/cli"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cmd := cli.NewRootCommand()
	cmd.Version = Version

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "faultlog: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
