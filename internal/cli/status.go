package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/keelcore/keelcore/internal/config"
	"github.com/keelcore/keelcore/internal/dedup"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("🏷️ KeelCore Version")
		fmt.Printf("Version: %s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		printHeader("📊 KeelCore Status")
		fmt.Printf("Version: %s\n", version)

		// Check config
		configPath, err := config.ConfigPath()
		if err == nil {
			if _, statErr := os.Stat(configPath); statErr == nil {
				fmt.Println("Config:  ✓ Found (" + configPath + ")")
			} else {
				fmt.Println("Config:  ✗ Not found (defaults apply)")
			}
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		// Dedup database + entry counts
		if _, err := os.Stat(cfg.Dedup.DBPath); err != nil {
			fmt.Println("Dedup DB: ✗ Not found (" + cfg.Dedup.DBPath + ")")
			fmt.Println("Status:  Ready")
			return nil
		}
		fmt.Println("Dedup DB: ✓ Found (" + cfg.Dedup.DBPath + ")")

		store, err := dedup.Open(cfg.Dedup.DBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		stats, err := store.Stats(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("Entries:  %d total, %d expired pending cleanup\n", stats.Total, stats.Expired)
		for typ, n := range stats.ByType {
			fmt.Printf("  %-20s %d\n", typ, n)
		}

		fmt.Println("Status:  Ready")
		return nil
	},
}
