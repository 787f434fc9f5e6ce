package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	extractSchool  string
	extractProgram string
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract and verify tuition for a single program",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		attempt := env.Pipeline.Extract(ctx, extractSchool, extractProgram)

		zap.L().Info("extraction complete",
			zap.String("school", attempt.School),
			zap.String("program", attempt.Program),
			zap.String("status", string(attempt.Verification.Status)),
			zap.String("confidence", string(attempt.Verification.Confidence)),
			zap.Int("retries", attempt.RetryCount),
			zap.Float64("cost_usd", attempt.CostUSD),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(attempt)
	},
}

func init() {
	extractCmd.Flags().StringVar(&extractSchool, "school", "", "school name (required)")
	extractCmd.Flags().StringVar(&extractProgram, "program", "", "program name (required)")
	_ = extractCmd.MarkFlagRequired("school")
	_ = extractCmd.MarkFlagRequired("program")
	rootCmd.AddCommand(extractCmd)
}
