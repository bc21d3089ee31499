package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/feature-store/internal/materialize"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show recent materialization runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		pool, err := storePool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := materialize.NewComputeLog(pool).List(ctx, limit)
		if err != nil {
			return err
		}

		if len(runs) == 0 {
			fmt.Println("No runs recorded")
			return nil
		}
		for _, r := range runs {
			completed := "-"
			if r.CompletedAt != nil {
				completed = r.CompletedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Printf("%-36s %-24s %-8s rows=%-8d started=%s completed=%s\n",
				r.RunID, r.FeatureID, string(r.Status), r.RowsProcessed,
				r.StartedAt.Format("2006-01-02 15:04:05"), completed)
			if r.Error != "" {
				fmt.Printf("  error: %s\n", r.Error)
			}
		}
		return nil
	},
}

func init() {
	runsCmd.Flags().Int("limit", 20, "max runs to show")
	rootCmd.AddCommand(runsCmd)
}
