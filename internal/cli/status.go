package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/circuitsmith/circuitsmith/internal/analytics"
	"github.com/circuitsmith/circuitsmith/internal/db"
	"github.com/circuitsmith/circuitsmith/internal/pipeline"
)

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show run status, or all runs when no id is given",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		if len(args) == 1 {
			return showRun(cmd, store, args[0])
		}
		return showAll(cmd, store)
	},
}

func showAll(cmd *cobra.Command, store *pipeline.Store) error {
	statusFilter, _ := cmd.Flags().GetString("status")
	runs, err := store.List(pipeline.Status(statusFilter))
	if err != nil {
		return err
	}

	format, _ := cmd.Flags().GetString("format")
	if format == "json" {
		data, _ := json.MarshalIndent(runs, "", "  ")
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}

	w := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs found.")
		return nil
	}

	fmt.Fprintf(w, "%-36s %-12s %-20s %s\n", "RUN", "STATUS", "STAGE", "TITLE")
	fmt.Fprintf(w, "%s\n", strings.Repeat("-", 80))
	for _, r := range runs {
		title := r.Title
		if len(title) > 40 {
			title = title[:37] + "..."
		}
		fmt.Fprintf(w, "%-36s %-12s %-20s %s\n", r.ID, r.Status, r.CurrentStage, title)
	}

	summary := analytics.Summarize(runs)
	fmt.Fprintf(w, "\n%d runs", summary.Total)
	for _, status := range []string{"completed", "failed", "aborted", "in_progress", "pending"} {
		if n := summary.ByStatus[status]; n > 0 {
			fmt.Fprintf(w, ", %d %s", n, status)
		}
	}
	if summary.Approved > 0 {
		fmt.Fprintf(w, ", %d approved with caveats", summary.Approved)
	}
	fmt.Fprintln(w)

	if durations, _ := cmd.Flags().GetBool("durations"); durations {
		fmt.Fprintf(w, "\n%-22s %-6s %-8s %-8s %-8s\n", "STAGE", "N", "AVG(s)", "P50(s)", "P95(s)")
		for _, d := range analytics.StageDurations(runs) {
			fmt.Fprintf(w, "%-22s %-6d %-8.1f %-8.1f %-8.1f\n", d.Stage, d.Count, d.Avg, d.P50, d.P95)
		}
	}
	return nil
}

func showRun(cmd *cobra.Command, store *pipeline.Store, id string) error {
	run, err := store.Get(id)
	if err != nil {
		return err
	}

	format, _ := cmd.Flags().GetString("format")
	if format == "json" {
		data, _ := json.MarshalIndent(run, "", "  ")
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Run:     %s\n", run.ID)
	fmt.Fprintf(w, "Title:   %s\n", run.Title)
	fmt.Fprintf(w, "Status:  %s\n", run.Status)
	fmt.Fprintf(w, "Stage:   %s\n", run.CurrentStage)
	fmt.Fprintf(w, "Created: %s\n", run.CreatedAt)
	if run.Approval != nil {
		fmt.Fprintf(w, "Caveats: %s\n", run.Approval.Rationale)
	}

	if len(run.StageHistory) > 0 {
		fmt.Fprintln(w, "\nStages:")
		for _, e := range run.StageHistory {
			detail := ""
			if e.Detail != "" {
				detail = "  " + e.Detail
			}
			fmt.Fprintf(w, "  %-22s %-8s %8s%s\n", e.Stage, e.Outcome, e.Duration, detail)
		}
	}

	if m, err := store.GetManifest(id); err == nil {
		fmt.Fprintln(w, "\nArtifacts:")
		for _, f := range m.Files {
			fmt.Fprintf(w, "  %s  (%d bytes, %s)\n", f.Path, f.Size, shortHash(f.Hash))
		}
	}

	// Event history needs the ledger; skip quietly when no DSN is set.
	cfg, err := loadConfig(cmd)
	if err != nil || cfg.DB.DSN == "" {
		return nil
	}
	database, err := db.Open(cmd.Context(), cfg.DB.DSN)
	if err != nil {
		return nil
	}
	defer database.Close()

	if events, err := database.GetRunHistory(cmd.Context(), id); err == nil && len(events) > 0 {
		fmt.Fprintln(w, "\nEvents:")
		for _, e := range events {
			fmt.Fprintf(w, "  %s  %-18s %-22s %s\n",
				e.CreatedAt.Format("2006-01-02 15:04:05"), e.Event, e.Stage, truncateDetail(e.Detail))
		}
	}

	if attempts, err := database.GetCorrectionHistory(cmd.Context(), id); err == nil && len(attempts) > 0 {
		fmt.Fprintln(w, "\nCorrections:")
		for _, a := range attempts {
			fmt.Fprintf(w, "  %-8s attempt %d  %d errors, %d warnings  %s\n",
				a.Phase, a.Attempt, a.Errors, a.Warnings, shortHash(a.Fingerprint))
		}
	}
	return nil
}

func truncateDetail(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > 60 {
		return s[:57] + "..."
	}
	return s
}

func init() {
	statusCmd.Flags().String("format", "text", "Output format: text or json")
	statusCmd.Flags().String("status", "", "Filter runs by status")
	statusCmd.Flags().Bool("durations", false, "Show per-stage duration stats")
}
