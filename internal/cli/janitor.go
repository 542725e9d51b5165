package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/keelcore/keelcore/internal/config"
	"github.com/keelcore/keelcore/internal/dedup"
	"github.com/keelcore/keelcore/internal/janitor"
)

var janitorCmd = &cobra.Command{
	Use:   "janitor",
	Short: "Run the expiry janitor as a foreground daemon",
	Long: "Sweeps expired dedup entries on the configured interval until\n" +
		"interrupted. With metrics enabled, serves Prometheus metrics too.",
	RunE: func(cmd *cobra.Command, args []string) error {
		printHeader("🧹 KeelCore Janitor")

		watcher, err := config.NewWatcher()
		if err != nil {
			return err
		}
		cfg := watcher.Config()

		store, err := dedup.Open(cfg.Dedup.DBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if cfg.Metrics.Enabled {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux}
			go func() {
				slog.Info("Metrics endpoint listening", "addr", cfg.Metrics.Listen)
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					slog.Error("Metrics endpoint failed", "error", err)
				}
			}()
			defer srv.Shutdown(context.Background())
		}

		interval := cfg.Janitor.Interval
		if interval <= 0 {
			interval = cfg.Dedup.CleanupInterval
		}
		j := janitor.New(store, interval, cfg.Janitor.LockFile)

		// Sweep interval follows config file edits without a restart.
		watcher.OnChange(func(c *config.Config) {
			next := c.Janitor.Interval
			if next <= 0 {
				next = c.Dedup.CleanupInterval
			}
			j.SetInterval(next)
		})
		if stopWatch, err := watcher.Watch(); err == nil {
			defer stopWatch()
		} else {
			slog.Warn("Config watch unavailable", "error", err)
		}

		fmt.Printf("Sweeping %s every %s (ctrl-c to stop)\n", cfg.Dedup.DBPath, interval)
		if err := j.Run(ctx); err != nil && err != context.Canceled {
			return err
		}
		return nil
	},
}
