package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/feature-store/internal/registry"
	"github.com/sells-group/feature-store/internal/stats"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Compute daily feature statistics",
	Long: `Stats computes count, mean, stddev, percentiles, null rate, and distinct
count for each active feature over one UTC calendar day, and upserts the
results. Recomputing a day overwrites it, so reruns after late facts are safe.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		pool, err := storePool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		day := time.Now().UTC().AddDate(0, 0, -1) // default: yesterday
		if dateStr, _ := cmd.Flags().GetString("date"); dateStr != "" {
			day, err = time.Parse("2006-01-02", dateStr)
			if err != nil {
				return eris.Wrapf(err, "stats: parse date %q", dateStr)
			}
		}

		featureIDs, err := activeFeatureIDs(ctx, registry.New(pool))
		if err != nil {
			return err
		}

		computed, err := stats.NewEngine(pool).ComputeAndStore(ctx, featureIDs, day)
		if err != nil {
			return err
		}

		if len(computed) == 0 {
			fmt.Printf("No facts on %s\n", day.Format("2006-01-02"))
			return nil
		}
		for _, st := range computed {
			fmt.Printf("%-24s n=%-8d mean=%-12.4f stddev=%-12.4f p50=%-12.4f null=%.2f%%\n",
				st.FeatureID, st.Count, st.Mean, st.Stddev, st.P50, st.NullRate*100)
		}
		return nil
	},
}

func init() {
	statsCmd.Flags().String("date", "", "UTC day to compute, YYYY-MM-DD (default: yesterday)")
	rootCmd.AddCommand(statsCmd)
}
