package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/feature-store/internal/materialize"
	"github.com/sells-group/feature-store/internal/stream"
)

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Run the streaming materializer",
	Long: `Stream consumes the change feed of raw row inserts and keeps the
short-window streaming features fresh for the affected entities. Facts are
appended before the feed offset commits, so a crash replays entries instead
of losing them.`,
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

		store, err := openOffline(ctx, pool)
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck

		var features []stream.WindowFeature
		for _, sf := range streamingFeatures(materialize.NewLibrary()) {
			features = append(features, sf)
		}
		if len(features) == 0 {
			zap.L().Warn("no streaming features in the library; nothing to do")
			return nil
		}

		feed := stream.NewPostgresFeed(pool)
		consumer := stream.NewConsumer(stream.ConsumerConfig{
			Name:      cfg.Stream.ConsumerName,
			BatchSize: cfg.Stream.BatchSize,
			ReadRate:  cfg.Stream.ReadRate,
		}, feed, feed, pool, store, features)

		if once, _ := cmd.Flags().GetBool("once"); once {
			n, err := consumer.Tick(ctx)
			if err != nil {
				return err
			}
			zap.L().Info("single pass complete", zap.Int("events", n))
			return nil
		}

		consumer.Run(ctx, time.Duration(cfg.Stream.IntervalSecs)*time.Second)
		return nil
	},
}

func init() {
	streamCmd.Flags().Bool("once", false, "process one batch and exit")
	rootCmd.AddCommand(streamCmd)
}
