package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/feature-store/internal/online"
	"github.com/sells-group/feature-store/internal/registry"
	"github.com/sells-group/feature-store/internal/stream"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fold offline facts into the online store",
	Long: `Sync advances each feature's watermark over the offline fact log and
merges new values into per-entity online vectors. Stale facts (older than the
value already stored) are skipped. --once runs a single catch-up pass;
otherwise sync loops on the configured interval.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("worker"); err != nil {
			return err
		}

		pool, err := storePool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		offStore, err := openOffline(ctx, pool)
		if err != nil {
			return err
		}
		defer offStore.Close() //nolint:errcheck

		onStore, err := openOnline(ctx, pool)
		if err != nil {
			return err
		}
		defer onStore.Close() //nolint:errcheck

		featureIDs, err := activeFeatureIDs(ctx, registry.New(pool))
		if err != nil {
			return err
		}
		if len(featureIDs) == 0 {
			fmt.Println("No active features to sync")
			return nil
		}

		syncer := online.NewSyncer(offStore, onStore, stream.NewPostgresFeed(pool), online.SyncerConfig{
			BatchSize: cfg.Sync.BatchSize,
			Shards:    cfg.Sync.Shards,
		})

		if once, _ := cmd.Flags().GetBool("once"); once {
			results, err := syncer.SyncAll(ctx, featureIDs)
			if err != nil {
				return err
			}
			var applied, stale int
			for _, r := range results {
				applied += r.Applied
				stale += r.Stale
			}
			fmt.Printf("Synced %d feature(s): %d applied, %d stale skipped\n", len(results), applied, stale)
			return nil
		}

		err = syncer.Run(ctx, featureIDs, time.Duration(cfg.Sync.IntervalSecs)*time.Second)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	syncCmd.Flags().Bool("once", false, "run a single catch-up pass and exit")
	rootCmd.AddCommand(syncCmd)
}
