package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/gradintel/tuition-cli/internal/model"
	"github.com/gradintel/tuition-cli/internal/monitoring"
	"github.com/gradintel/tuition-cli/internal/store"
)

var attemptsCmd = &cobra.Command{
	Use:   "attempts",
	Short: "Inspect extraction attempt history",
	Long:  "Commands for listing, viewing, and summarizing extraction attempts.",
}

// -- attempts list --

var attemptsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List extraction attempts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		school, _ := cmd.Flags().GetString("school")
		program, _ := cmd.Flags().GetString("program")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		attempts, err := st.ListAttempts(ctx, store.AttemptFilter{
			School:  school,
			Program: program,
			Status:  model.VerificationStatus(status),
			Limit:   limit,
		})
		if err != nil {
			return eris.Wrap(err, "attempts list")
		}

		if len(attempts) == 0 {
			fmt.Fprintln(os.Stderr, "No attempts found.")
			return nil
		}

		formatAttemptsList(os.Stdout, attempts)
		return nil
	},
}

// -- attempts show --

var attemptsShowCmd = &cobra.Command{
	Use:   "show <attempt-id>",
	Short: "Show full details of an attempt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		attempt, err := st.GetAttempt(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "attempts show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(attempt)
	},
}

// -- attempts stats --

var attemptsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate extraction statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		lookback, _ := cmd.Flags().GetInt("hours")

		snap, err := monitoring.NewCollector(st, cfg.Quota.DailyLimit).Collect(ctx, lookback)
		if err != nil {
			return eris.Wrap(err, "attempts stats")
		}

		formatSnapshot(os.Stdout, snap)
		return nil
	},
}

func init() {
	attemptsListCmd.Flags().String("school", "", "filter by school name")
	attemptsListCmd.Flags().String("program", "", "filter by program name")
	attemptsListCmd.Flags().String("status", "", "filter by verification status (verified, needs_review, retry_recommended, failed)")
	attemptsListCmd.Flags().Int("limit", 50, "max number of attempts to display")

	attemptsStatsCmd.Flags().Int("hours", 24, "lookback window in hours")

	attemptsCmd.AddCommand(attemptsListCmd)
	attemptsCmd.AddCommand(attemptsShowCmd)
	attemptsCmd.AddCommand(attemptsStatsCmd)
	rootCmd.AddCommand(attemptsCmd)
}

// formatAttemptsList writes a tabular list of attempts to w.
func formatAttemptsList(out io.Writer, attempts []model.Attempt) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSCHOOL\tPROGRAM\tV\tSTATUS\tCONF\tTUITION\tCOST\tCREATED")

	for _, a := range attempts {
		status, conf := "-", "-"
		if a.Verification != nil {
			status = string(a.Verification.Status)
			conf = string(a.Verification.Confidence)
		}
		tuition := "-"
		if a.Candidate.TuitionAmount != nil {
			tuition = fmt.Sprintf("$%.0f", *a.Candidate.TuitionAmount)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\t$%.3f\t%s\n",
			shortID(a.ID), a.School, a.Program, a.Version,
			status, conf, tuition, a.CostUSD,
			a.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// formatSnapshot writes a metrics snapshot summary to w.
func formatSnapshot(out io.Writer, snap *monitoring.MetricsSnapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Window:\tlast %dh\n", snap.LookbackHours)
	_, _ = fmt.Fprintf(w, "Attempts:\t%d\n", snap.AttemptsTotal)
	_, _ = fmt.Fprintf(w, "  verified:\t%d\n", snap.Verified)
	_, _ = fmt.Fprintf(w, "  needs review:\t%d\n", snap.NeedsReview)
	_, _ = fmt.Fprintf(w, "  retry recommended:\t%d\n", snap.RetryRecommended)
	_, _ = fmt.Fprintf(w, "  failed:\t%d (%.1f%%)\n", snap.Failed, snap.FailRate*100)
	_, _ = fmt.Fprintf(w, "Avg completeness:\t%.1f%%\n", snap.AvgCompleteness)
	_, _ = fmt.Fprintf(w, "Total cost:\t$%.3f\n", snap.TotalCostUSD)
	_, _ = fmt.Fprintf(w, "Quota today:\t%d/%d\n", snap.QuotaUsed, snap.QuotaLimit)
	_ = w.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
