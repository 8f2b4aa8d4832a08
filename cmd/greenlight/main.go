// cmd/greenlight/main.go
//
// Entry point for the greenlight CLI. All command wiring lives in
// internal/cli; this just runs the root command.

package main

import (
	"os"

	"github.com/vaultship/greenlight/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
