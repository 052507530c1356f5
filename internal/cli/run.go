package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/circuitsmith/circuitsmith/internal/agent"
	"github.com/circuitsmith/circuitsmith/internal/config"
	"github.com/circuitsmith/circuitsmith/internal/container"
	"github.com/circuitsmith/circuitsmith/internal/db"
	"github.com/circuitsmith/circuitsmith/internal/orchestrator"
	"github.com/circuitsmith/circuitsmith/internal/progress"
)

var runCmd = &cobra.Command{
	Use:   "run <request>",
	Short: "Generate and validate a circuit script from a request",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := config.Validate(cfg); err != nil {
			return err
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer logger.Sync()

		store, err := openStore()
		if err != nil {
			return err
		}

		client, err := agent.NewHTTPClient(agent.HTTPConfig{
			URL:     cfg.Service.URL,
			APIKey:  os.Getenv(cfg.Service.APIKeyEnv),
			Model:   cfg.Service.Model,
			Timeout: config.Duration(cfg.Service.Timeout, 120*time.Second),
		})
		if err != nil {
			return err
		}
		agents := agent.NewExecutor(client, agent.DefaultRetryConfig(), logger)

		opts := orchestrator.Opts{
			Store:  store,
			Config: cfg,
			Agents: agents,
			Runner: container.NewExecDocker(),
			Sink:   progress.NewWriterSink(cmd.OutOrStdout()),
			Logger: logger,
		}

		if cfg.DB.DSN != "" {
			database, err := db.Open(cmd.Context(), cfg.DB.DSN)
			if err != nil {
				return fmt.Errorf("connect event ledger: %w", err)
			}
			defer database.Close()
			if err := database.Migrate(cmd.Context()); err != nil {
				return err
			}
			opts.Recorder = database
		}

		orch, err := orchestrator.New(opts)
		if err != nil {
			return err
		}

		// Ctrl-C aborts the run; registered sessions are torn down before
		// the process exits.
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		defer container.CleanupAll(logger)

		title, _ := cmd.Flags().GetString("title")
		run, err := orch.Run(ctx, orchestrator.RunInput{
			Title:   title,
			Request: strings.Join(args, " "),
		})
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			data, _ := json.MarshalIndent(run, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "\nRun %s %s\n", run.ID, run.Status)
		if m, err := store.GetManifest(run.ID); err == nil {
			for _, f := range m.Files {
				fmt.Fprintf(w, "  %s  (%d bytes, %s)\n", f.Path, f.Size, shortHash(f.Hash))
			}
			if m.Approval != nil {
				fmt.Fprintf(w, "  approved with caveats: %s\n", m.Approval.Rationale)
			}
		}
		fmt.Fprintf(w, "Output: %s\n", store.OutputDir(run.ID))
		return nil
	},
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func init() {
	runCmd.Flags().String("title", "", "Run title (default: derived from the request)")
	runCmd.Flags().Bool("json", false, "Print the final run state as JSON")
}
