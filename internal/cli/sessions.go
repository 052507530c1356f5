package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/circuitsmith/circuitsmith/internal/container"
	"github.com/circuitsmith/circuitsmith/internal/db"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and clean up toolchain containers",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List containers matching the configured name prefix",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		runner := container.NewExecDocker()
		names, err := runner.List(cmd.Context(), cfg.Container.NamePrefix)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if len(names) == 0 {
			fmt.Fprintln(w, "No containers found.")
			return nil
		}
		live := make(map[string]bool)
		for _, name := range container.ActiveSessions() {
			live[name] = true
		}
		for _, name := range names {
			state := "stale"
			if live[name] {
				state = "active"
			}
			fmt.Fprintf(w, "%-40s %s\n", name, state)
		}
		return nil
	},
}

var sessionsReapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Remove stale containers left behind by crashed runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer logger.Sync()

		reaped, err := container.ReapStale(cmd.Context(), container.NewExecDocker(), cfg.Container.NamePrefix, logger)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if len(reaped) == 0 {
			fmt.Fprintln(w, "Nothing to reap.")
			return nil
		}
		for _, name := range reaped {
			fmt.Fprintf(w, "reaped %s\n", name)
		}
		return nil
	},
}

var sessionsHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show container lifecycle events from the ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.DB.DSN == "" {
			return fmt.Errorf("db.dsn is not configured")
		}
		database, err := db.Open(cmd.Context(), cfg.DB.DSN)
		if err != nil {
			return err
		}
		defer database.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		events, err := database.GetContainerHistory(cmd.Context(), cfg.Container.NamePrefix, limit)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if len(events) == 0 {
			fmt.Fprintln(w, "No container events recorded.")
			return nil
		}
		for _, e := range events {
			fmt.Fprintf(w, "%s  %-30s %-10s run=%s %s\n",
				e.CreatedAt.Format("2006-01-02 15:04:05"), e.Name, e.Event, e.RunID, e.Detail)
		}
		return nil
	},
}

func init() {
	sessionsHistoryCmd.Flags().Int("limit", 50, "Maximum events to show")
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsReapCmd)
	sessionsCmd.AddCommand(sessionsHistoryCmd)
}
