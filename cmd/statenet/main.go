// Command statenet runs, checks and tests hierarchical state graphs.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/statenet/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err != nil {
		// Subcommands silence cobra's own error printing.
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
