package cli

import (
	"github.com/spf13/cobra"

	"github.com/circuitsmith/circuitsmith/internal/config"
	"github.com/circuitsmith/circuitsmith/internal/logging"
	"github.com/circuitsmith/circuitsmith/internal/pipeline"
	"go.uber.org/zap"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var rootCmd = &cobra.Command{
	Use:   "smith",
	Short: "circuitsmith: agent-driven circuit script generation",
	Long: `circuitsmith turns a natural-language circuit request into a validated
Python circuit script. Reasoning agents plan the design and generate the
script; an isolated toolchain container validates, executes, and
rule-checks it through bounded correction loops.

Run state is stored under ~/.circuitsmith/runs; an optional postgres
ledger records events when db.dsn is configured.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to config file (default: ./circuitsmith.yaml, ~/.circuitsmith/config.yaml)")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dbCmd)
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return config.Load(path)
	}
	return config.LoadDefault()
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.Logging.Level, cfg.Logging.Format)
}

func openStore() (*pipeline.Store, error) {
	return pipeline.DefaultStore()
}
