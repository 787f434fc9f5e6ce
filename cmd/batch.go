package main

import (
	"encoding/csv"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gradintel/tuition-cli/internal/model"
)

var (
	batchFile  string
	batchLimit int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Batch extract tuition from a CSV of school,program rows",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		f, err := os.Open(batchFile)
		if err != nil {
			return eris.Wrapf(err, "open batch file %s", batchFile)
		}
		defer f.Close() //nolint:errcheck

		targets, err := readTargets(f)
		if err != nil {
			return err
		}
		if batchLimit > 0 && len(targets) > batchLimit {
			targets = targets[:batchLimit]
		}
		if len(targets) == 0 {
			zap.L().Info("no targets in batch file")
			return nil
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		zap.L().Info("processing batch",
			zap.Int("targets", len(targets)),
			zap.Int("concurrency", cfg.Batch.MaxConcurrent),
		)

		results := env.Pipeline.ExtractBatch(ctx, targets, cfg.Batch.MaxConcurrent)

		var verified, review, failed int
		var totalCost float64
		for _, r := range results {
			totalCost += r.CostUSD
			if r.Verification == nil {
				continue
			}
			switch r.Verification.Status {
			case model.VerificationVerified:
				verified++
			case model.VerificationFailed:
				failed++
			default:
				review++
			}
		}

		zap.L().Info("batch complete",
			zap.Int("verified", verified),
			zap.Int("needs_review", review),
			zap.Int("failed", failed),
			zap.Float64("total_cost_usd", totalCost),
		)
		return nil
	},
}

// readTargets parses CSV rows of school,program. A header row naming the two
// columns is skipped; blank rows are ignored.
func readTargets(r io.Reader) ([]model.ExtractionRequest, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	var targets []model.ExtractionRequest
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "parse batch csv")
		}
		if len(record) < 2 {
			continue
		}

		school := strings.TrimSpace(record[0])
		program := strings.TrimSpace(record[1])
		if school == "" || program == "" {
			continue
		}
		if strings.EqualFold(school, "school") && strings.EqualFold(program, "program") {
			continue
		}
		targets = append(targets, model.ExtractionRequest{School: school, Program: program})
	}
	return targets, nil
}

func init() {
	batchCmd.Flags().StringVar(&batchFile, "file", "", "CSV file of school,program rows (required)")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "max number of targets to process (0 = all)")
	_ = batchCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(batchCmd)
}
