package online

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/feature-store/internal/metrics"
	"github.com/sells-group/feature-store/internal/offline"
	"github.com/sells-group/feature-store/internal/stream"
)

// Syncer folds newly appended offline facts into online vectors. Each
// feature carries its own sequence watermark in the offset store under an
// "online-sync:" consumer key, so features advance independently and a
// crash resumes from the last committed position. Facts are applied before
// the watermark commits; replayed facts land as stale skips.
type Syncer struct {
	offline offline.Store
	online  Store
	offsets stream.OffsetStore
	batch   int
	shards  int
	log     *zap.Logger
}

// SyncerConfig tunes batch size and Apply parallelism.
type SyncerConfig struct {
	BatchSize int
	Shards    int
}

// NewSyncer creates a Syncer over the given stores.
func NewSyncer(off offline.Store, on Store, offsets stream.OffsetStore, cfg SyncerConfig) *Syncer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.Shards <= 0 {
		cfg.Shards = 4
	}
	return &Syncer{
		offline: off,
		online:  on,
		offsets: offsets,
		batch:   cfg.BatchSize,
		shards:  cfg.Shards,
		log:     zap.L().With(zap.String("component", "online.syncer")),
	}
}

func syncConsumer(featureID string) string {
	return "online-sync:" + featureID
}

// SyncResult reports one SyncFeature pass.
type SyncResult struct {
	FeatureID string
	Applied   int
	Stale     int
	Watermark int64
}

// SyncFeature drains facts for one feature past its watermark and merges
// them into the entities' vectors. Returns the result of a single batch;
// callers loop until Applied+Stale is zero to fully catch up.
func (s *Syncer) SyncFeature(ctx context.Context, featureID string) (*SyncResult, error) {
	consumer := syncConsumer(featureID)
	wm, err := s.offsets.Committed(ctx, consumer)
	if err != nil {
		return nil, eris.Wrapf(err, "online: watermark for %s", featureID)
	}

	facts, err := s.offline.FactsAfter(ctx, featureID, wm, s.batch)
	if err != nil {
		return nil, eris.Wrapf(err, "online: read facts for %s", featureID)
	}
	res := &SyncResult{FeatureID: featureID, Watermark: wm}
	if len(facts) == 0 {
		return res, nil
	}

	type entityKey struct{ entityType, entityID string }
	byEntity := make(map[entityKey][]Update)
	order := make([]entityKey, 0)
	maxSeq := wm
	for _, f := range facts {
		k := entityKey{f.EntityType, f.EntityID}
		if _, ok := byEntity[k]; !ok {
			order = append(order, k)
		}
		byEntity[k] = append(byEntity[k], Update{FeatureID: f.FeatureID, Value: f.Value, AsOf: f.AsOf})
		if f.Seq > maxSeq {
			maxSeq = f.Seq
		}
	}

	// Shard Apply by entity: one goroutine never touches another's key, so
	// the per-key read-then-write in the drivers stays single-writer.
	var (
		g, gctx = errgroup.WithContext(ctx)
		applied = make([]int, len(order))
		stale   = make([]int, len(order))
	)
	g.SetLimit(s.shards)
	for i, k := range order {
		i, k := i, k
		g.Go(func() error {
			a, st, err := s.online.Apply(gctx, k.entityType, k.entityID, byEntity[k])
			if err != nil {
				return eris.Wrapf(err, "online: apply %s/%s", k.entityType, k.entityID)
			}
			applied[i], stale[i] = a, st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i := range order {
		res.Applied += applied[i]
		res.Stale += stale[i]
	}

	// Commit only after every entity applied: a crash before this replays
	// the batch, and staleness filtering absorbs the duplicates.
	if err := s.offsets.Commit(ctx, consumer, maxSeq); err != nil {
		return nil, eris.Wrapf(err, "online: commit watermark %d for %s", maxSeq, featureID)
	}
	res.Watermark = maxSeq

	metrics.SyncApplied.WithLabelValues(featureID).Add(float64(res.Applied))
	metrics.SyncStale.WithLabelValues(featureID).Add(float64(res.Stale))
	return res, nil
}

// SyncAll runs SyncFeature for each feature until each is caught up.
func (s *Syncer) SyncAll(ctx context.Context, featureIDs []string) ([]SyncResult, error) {
	out := make([]SyncResult, 0, len(featureIDs))
	for _, fid := range featureIDs {
		total := SyncResult{FeatureID: fid}
		for {
			res, err := s.SyncFeature(ctx, fid)
			if err != nil {
				return out, err
			}
			total.Applied += res.Applied
			total.Stale += res.Stale
			total.Watermark = res.Watermark
			if res.Applied+res.Stale == 0 {
				break
			}
		}
		s.log.Info("feature synced",
			zap.String("feature_id", fid),
			zap.Int("applied", total.Applied),
			zap.Int("stale", total.Stale),
			zap.Int64("watermark", total.Watermark),
		)
		out = append(out, total)
	}
	return out, nil
}

// Run loops SyncAll on the interval until the context ends. Errors are
// logged without advancing watermarks, so the next pass retries.
func (s *Syncer) Run(ctx context.Context, featureIDs []string, interval time.Duration) error {
	s.log.Info("online sync worker started",
		zap.Int("features", len(featureIDs)),
		zap.Duration("interval", interval),
	)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.SyncAll(ctx, featureIDs); err != nil {
			s.log.Error("sync pass failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			s.log.Info("online sync worker stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
