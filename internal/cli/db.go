package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/circuitsmith/circuitsmith/internal/db"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Event ledger management",
}

func openLedger(cmd *cobra.Command) (*db.DB, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if cfg.DB.DSN == "" {
		return nil, fmt.Errorf("db.dsn is not configured")
	}
	return db.Open(cmd.Context(), cfg.DB.DSN)
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the ledger schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openLedger(cmd)
		if err != nil {
			return err
		}
		defer database.Close()
		if err := database.Migrate(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Schema applied.")
		return nil
	},
}

var dbResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop and recreate the ledger schema (destructive!)",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openLedger(cmd)
		if err != nil {
			return err
		}
		defer database.Close()
		if err := database.Reset(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Schema reset.")
		return nil
	},
}

func init() {
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbResetCmd)
}
