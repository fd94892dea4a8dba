// Command atomic serves and exercises JSON:API atomic operations.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/jsonapi-atomic/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
