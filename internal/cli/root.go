// Package cli implements the keelcore operator commands.
package cli

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/keelcore/keelcore/internal/cli.version=1.2.3"
	version = "0.3.0"
	logo    = "\n" +
		"  _  __         _  ____\n" +
		" | |/ /___  ___| |/ ___|___  _ __ ___\n" +
		" | ' // _ \\/ _ \\ | |   / _ \\| '__/ _ \\\n" +
		" | . \\  __/  __/ | |__| (_) | | |  __/\n" +
		" |_|\\_\\___|\\___|_|\\____\\___/|_|  \\___|\n"
)

var rootCmd = &cobra.Command{
	Use:   "keelcore",
	Short: "KeelCore - event bus, dedup and state reliability core",
	Long:  color.CyanString(logo) + "\nAn in-process event bus with idempotent deduplication and atomic state, written in Go.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(janitorCmd)
}
