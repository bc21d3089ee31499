package drift

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// FeatureLister supplies the feature IDs to monitor on each pass.
type FeatureLister func(ctx context.Context) ([]string, error)

// Checker runs periodic drift checks in the background.
type Checker struct {
	monitor  *Monitor
	features FeatureLister
	interval time.Duration
}

// NewChecker creates a background checker over the monitor.
func NewChecker(monitor *Monitor, features FeatureLister, interval time.Duration) *Checker {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Checker{monitor: monitor, features: features, interval: interval}
}

// Run blocks until ctx is cancelled, checking all features each interval.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "drift.checker"))
	log.Info("starting drift checker", zap.Duration("interval", c.interval))

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("drift checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

func (c *Checker) check(ctx context.Context, log *zap.Logger) {
	featureIDs, err := c.features(ctx)
	if err != nil {
		log.Error("failed to list features", zap.Error(err))
		return
	}

	alerts, err := c.monitor.CheckAll(ctx, featureIDs, time.Now().UTC())
	if err != nil {
		log.Error("drift pass failed", zap.Error(err))
		return
	}
	if len(alerts) == 0 {
		log.Debug("no drift detected")
		return
	}
	log.Info("drift pass complete",
		zap.Int("features_checked", len(featureIDs)),
		zap.Int("alerts", len(alerts)),
	)
}
