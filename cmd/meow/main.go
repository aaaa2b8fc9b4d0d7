// Command meow runs event-driven workflows over a managed directory.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/meow/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
