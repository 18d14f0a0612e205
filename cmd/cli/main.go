// Package main is the entry point for the opsplane CLI.
// The CLI is the operator terminal tool for queueing operations on devices
// and following their delivery.
package main

import (
	"os"

	"opsplane/cmd/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
