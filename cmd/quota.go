package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/gradintel/tuition-cli/internal/quota"
)

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Show today's extraction quota usage",
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

		guard := quota.NewGuard(st, cfg.Quota, nil)
		status, err := guard.Status(ctx)
		if err != nil {
			return eris.Wrap(err, "quota status")
		}

		fmt.Fprintf(os.Stdout, "Date:      %s (UTC)\n", status.Date)
		fmt.Fprintf(os.Stdout, "Used:      %d/%d (%.1f%%)\n", status.Used, status.Limit, status.UsagePercent)
		fmt.Fprintf(os.Stdout, "Remaining: %d\n", status.Remaining)
		if status.IsExceeded {
			fmt.Fprintln(os.Stdout, "Daily limit reached. Further extraction calls will be denied until midnight UTC.")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(quotaCmd)
}
