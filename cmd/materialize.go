package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/feature-store/internal/materialize"
	"github.com/sells-group/feature-store/internal/registry"
)

var materializeCmd = &cobra.Command{
	Use:   "materialize",
	Short: "Batch-materialize features into the offline store",
	Long: `Materialize runs every active batch feature that is due per its cadence.

Use --features to restrict to specific feature_ids, --force to ignore
cadence scheduling. Each feature runs under an exclusive run lock; a
feature already running elsewhere is skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("command", "materialize"))

		pool, err := storePool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		store, err := openOffline(ctx, pool)
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck

		featuresStr, _ := cmd.Flags().GetString("features")
		force, _ := cmd.Flags().GetBool("force")

		opts := materialize.RunOpts{Force: force}
		if featuresStr != "" {
			opts.Features = strings.Split(featuresStr, ",")
			for i := range opts.Features {
				opts.Features[i] = strings.TrimSpace(opts.Features[i])
			}
		}

		lockTimeout := time.Duration(cfg.Materialize.LockTimeoutSecs) * time.Second
		computeLog := materialize.NewComputeLog(pool)

		// Release locks abandoned by crashed runs before starting.
		reaped, err := computeLog.Reap(ctx, lockTimeout)
		if err != nil {
			return eris.Wrap(err, "materialize: reap")
		}
		if reaped > 0 {
			log.Warn("reaped expired run locks", zap.Int64("count", reaped))
		}

		engine := materialize.NewEngine(pool, store, computeLog, registry.New(pool), materialize.NewLibrary(), lockTimeout)

		log.Info("starting materialization",
			zap.Strings("features", opts.Features),
			zap.Bool("force", opts.Force),
		)
		if err := engine.Run(ctx, opts); err != nil {
			return eris.Wrap(err, "materialize")
		}

		fmt.Println("Materialization complete")
		return nil
	},
}

var materializeReapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Release run locks held past the lock timeout",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		pool, err := storePool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		lockTimeout := time.Duration(cfg.Materialize.LockTimeoutSecs) * time.Second
		reaped, err := materialize.NewComputeLog(pool).Reap(ctx, lockTimeout)
		if err != nil {
			return eris.Wrap(err, "reap")
		}
		fmt.Printf("Reaped %d expired run(s)\n", reaped)
		return nil
	},
}

func init() {
	materializeCmd.Flags().String("features", "", "comma-separated feature_ids (default: all due batch features)")
	materializeCmd.Flags().Bool("force", false, "ignore cadence scheduling")
	materializeCmd.AddCommand(materializeReapCmd)
	rootCmd.AddCommand(materializeCmd)
}
