// Package main is the entry point for the keelcore CLI.
package main

import (
	"os"

	"github.com/keelcore/keelcore/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
