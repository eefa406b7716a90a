// Package main is the tether command.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/tether/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
