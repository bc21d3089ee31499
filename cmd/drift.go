package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/feature-store/internal/db"
	"github.com/sells-group/feature-store/internal/drift"
	"github.com/sells-group/feature-store/internal/registry"
	"github.com/sells-group/feature-store/internal/stats"
)

var driftCmd = &cobra.Command{
	Use:   "drift",
	Short: "Detect distribution shifts in feature values",
}

// newDriftMonitor wires the monitor from config: stats source, alert sink,
// and optional webhook delivery.
func newDriftMonitor(pool db.Pool) *drift.Monitor {
	var alerter *drift.Alerter
	if cfg.Drift.WebhookURL != "" {
		alerter = drift.NewAlerter(cfg.Drift.WebhookURL)
	}
	return drift.NewMonitor(stats.NewEngine(pool), pool, alerter, drift.MonitorConfig{
		RecentWindow:   time.Duration(cfg.Drift.RecentWindowDays) * 24 * time.Hour,
		BaselineWindow: time.Duration(cfg.Drift.BaselineWindowDays) * 24 * time.Hour,
		MinDays:        cfg.Drift.MinDays,
	})
}

var driftCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Run one drift pass over all active features",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		pool, err := storePool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		featureIDs, err := activeFeatureIDs(ctx, registry.New(pool))
		if err != nil {
			return err
		}

		alerts, err := newDriftMonitor(pool).CheckAll(ctx, featureIDs, time.Now().UTC())
		if err != nil {
			return err
		}

		if len(alerts) == 0 {
			fmt.Printf("No drift detected across %d feature(s)\n", len(featureIDs))
			return nil
		}
		for _, a := range alerts {
			fmt.Printf("%-24s %-10s score=%-8.2f baseline=%-12.4f recent=%.4f\n",
				a.FeatureID, string(a.Severity), a.Score, a.BaselineMean, a.RecentMean)
		}
		return nil
	},
}

var driftWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the drift checker loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		pool, err := storePool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		reg := registry.New(pool)
		lister := func(ctx context.Context) ([]string, error) { return activeFeatureIDs(ctx, reg) }

		checker := drift.NewChecker(newDriftMonitor(pool), lister,
			time.Duration(cfg.Drift.CheckIntervalSecs)*time.Second)
		checker.Run(ctx)
		return nil
	},
}

func init() {
	driftCmd.AddCommand(driftCheckCmd)
	driftCmd.AddCommand(driftWatchCmd)
	rootCmd.AddCommand(driftCmd)
}
