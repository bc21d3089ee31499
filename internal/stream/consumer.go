package stream

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/feature-store/internal/db"
	"github.com/sells-group/feature-store/internal/materialize"
	"github.com/sells-group/feature-store/internal/metrics"
	"github.com/sells-group/feature-store/internal/model"
	"github.com/sells-group/feature-store/internal/offline"
)

// WindowFeature is a streaming feature whose fixed short window can be
// recomputed fresh for a restricted set of entities.
// *materialize.SQLFeature implements it.
type WindowFeature interface {
	Name() string
	EntityType() string
	RecomputeFor(ctx context.Context, pool db.Pool, entityIDs []string, asOf time.Time) ([]materialize.EntityValue, error)
}

// Consumer is the streaming materializer: on each tick it reads feed
// entries past the committed offset, recomputes each streaming feature's
// window for the affected entities, appends the facts, and only then
// commits the new offset. Write-then-commit ordering means a crash between
// the two replays entries rather than losing facts.
type Consumer struct {
	name      string
	feed      ChangeFeed
	offsets   OffsetStore
	pool      db.Pool // raw source access for window recompute
	store     offline.Store
	features  []WindowFeature
	batchSize int
	limiter   *rate.Limiter
}

// ConsumerConfig tunes the consumer loop.
type ConsumerConfig struct {
	Name      string
	BatchSize int     // max feed entries per tick
	ReadRate  float64 // feed reads per second; 0 disables pacing
}

// NewConsumer creates a streaming consumer.
func NewConsumer(cfg ConsumerConfig, feed ChangeFeed, offsets OffsetStore, pool db.Pool, store offline.Store, features []WindowFeature) *Consumer {
	if cfg.Name == "" {
		cfg.Name = "stream-materializer"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.ReadRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.ReadRate), 1)
	}
	return &Consumer{
		name:      cfg.Name,
		feed:      feed,
		offsets:   offsets,
		pool:      pool,
		store:     store,
		features:  features,
		batchSize: cfg.BatchSize,
		limiter:   limiter,
	}
}

// Tick processes one batch of feed entries and returns how many were
// consumed. An error before the offset commit leaves the offset untouched,
// guaranteeing at-least-once reprocessing.
func (c *Consumer) Tick(ctx context.Context) (int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	offset, err := c.offsets.Committed(ctx, c.name)
	if err != nil {
		return 0, err
	}

	events, err := c.feed.ReadAfter(ctx, offset, c.batchSize)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		metrics.FeedLag.Set(0)
		return 0, nil
	}

	// Unique affected entities, keyed by entity type.
	byType := make(map[string][]string)
	seen := make(map[string]bool, len(events))
	for _, e := range events {
		key := e.EntityType + "/" + e.EntityID
		if !seen[key] {
			seen[key] = true
			byType[e.EntityType] = append(byType[e.EntityType], e.EntityID)
		}
	}

	asOf := time.Now().UTC()
	var facts []model.Fact
	perFeature := make(map[string]int, len(c.features))
	for _, f := range c.features {
		entities := byType[f.EntityType()]
		if len(entities) == 0 {
			continue
		}
		values, err := f.RecomputeFor(ctx, c.pool, entities, asOf)
		if err != nil {
			return 0, eris.Wrapf(err, "stream: recompute %s", f.Name())
		}
		perFeature[f.Name()] = len(values)
		for _, v := range values {
			facts = append(facts, model.Fact{
				EntityID:   v.EntityID,
				EntityType: f.EntityType(),
				FeatureID:  f.Name(),
				Value:      v.Value,
				AsOf:       asOf,
			})
		}
	}

	// Facts must be durable before the offset advances.
	if _, err := c.store.AppendFacts(ctx, facts); err != nil {
		return 0, eris.Wrap(err, "stream: append facts")
	}

	lastSeq := events[len(events)-1].Seq
	if err := c.offsets.Commit(ctx, c.name, lastSeq); err != nil {
		return 0, eris.Wrap(err, "stream: commit offset")
	}

	if head, err := c.feed.Head(ctx); err == nil {
		metrics.FeedLag.Set(float64(head - lastSeq))
	}
	for name, n := range perFeature {
		metrics.FactsAppended.WithLabelValues(name).Add(float64(n))
	}

	return len(events), nil
}

// Run ticks on a fixed interval until ctx is cancelled. Tick errors are
// logged and retried next interval; the offset only moves on success.
func (c *Consumer) Run(ctx context.Context, interval time.Duration) {
	log := zap.L().With(zap.String("component", "stream.consumer"), zap.String("consumer", c.name))
	log.Info("starting streaming materializer", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("streaming materializer stopped")
			return
		case <-ticker.C:
			n, err := c.Tick(ctx)
			if err != nil {
				log.Error("tick failed, offset not advanced", zap.Error(err))
				continue
			}
			if n > 0 {
				log.Info("tick complete", zap.Int("events", n))
			}
		}
	}
}
