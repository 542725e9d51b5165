package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/keelcore/keelcore/internal/config"
	"github.com/keelcore/keelcore/internal/state"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Inspect and restore state document backups",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var backupListCmd = &cobra.Command{
	Use:   "list <document>",
	Short: "List backups for a state document, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		mgr, err := state.NewManager(cfg.State.Dir, cfg.State.Retention)
		if err != nil {
			return err
		}

		stamps, err := mgr.ListBackups(args[0])
		if err != nil {
			return err
		}
		if len(stamps) == 0 {
			fmt.Printf("No backups for %q\n", args[0])
			return nil
		}
		for _, ts := range stamps {
			fmt.Printf("%d  %s\n", ts.UnixNano(), ts.Format(time.RFC3339Nano))
		}
		return nil
	},
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore <document> <timestamp-nanos>",
	Short: "Print the backup taken at the given timestamp",
	Long: "Prints the backed-up document to stdout without touching the live state.\n" +
		"Pipe to a file and write it back explicitly to roll back.",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		nanos, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("timestamp must be nanoseconds as printed by 'backup list': %w", err)
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		mgr, err := state.NewManager(cfg.State.Dir, cfg.State.Retention)
		if err != nil {
			return err
		}

		var doc any
		if err := mgr.RestoreFromBackup(args[0], time.Unix(0, nanos), &doc); err != nil {
			return err
		}
		out, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		fmt.Fprintln(cmd.ErrOrStderr(), color.YellowString("Live document unchanged; write this back explicitly to roll back."))
		return nil
	},
}

func init() {
	backupCmd.AddCommand(backupListCmd)
	backupCmd.AddCommand(backupRestoreCmd)
}
