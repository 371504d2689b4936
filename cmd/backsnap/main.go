// Package main is the entry point for the backsnap CLI.
package main

import (
	"os"

	"github.com/thoreinstein/backsnap/cmd/backsnap/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(commands.ExitCode(err))
	}
}
