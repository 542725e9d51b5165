package cli

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/keelcore/keelcore/internal/config"
	"github.com/keelcore/keelcore/internal/dedup"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete expired dedup entries now",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		store, err := dedup.Open(cfg.Dedup.DBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		n, err := store.CleanupExpired(context.Background())
		if err != nil {
			return err
		}
		fmt.Println(color.GreenString("Removed %d expired entries", n))
		return nil
	},
}
