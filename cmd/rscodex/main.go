// Package main provides the entry point for the rscodex CLI.
package main

import (
	"os"

	"github.com/rscodex/rscodex/cmd/rscodex/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
