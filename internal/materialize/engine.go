package materialize

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/feature-store/internal/db"
	"github.com/sells-group/feature-store/internal/metrics"
	"github.com/sells-group/feature-store/internal/model"
	"github.com/sells-group/feature-store/internal/offline"
	"github.com/sells-group/feature-store/internal/registry"
)

// Engine orchestrates batch materialization runs: one windowed value per
// entity per due feature, appended as facts stamped with the run's as_of.
type Engine struct {
	pool        db.Pool // raw source access (read-only aggregate queries)
	store       offline.Store
	log         *ComputeLog
	reg         *registry.Registry
	lib         *Library
	lockTimeout time.Duration
}

// RunOpts configures which features to materialize and how.
type RunOpts struct {
	Features []string // restrict to specific feature_ids
	Force    bool     // ignore cadence scheduling
}

// NewEngine creates a batch materialization engine.
func NewEngine(pool db.Pool, store offline.Store, log *ComputeLog, reg *registry.Registry, lib *Library, lockTimeout time.Duration) *Engine {
	return &Engine{
		pool:        pool,
		store:       store,
		log:         log,
		reg:         reg,
		lib:         lib,
		lockTimeout: lockTimeout,
	}
}

// Run materializes every selected active batch feature that is due. One
// feature's failure is recorded and skipped; it never blocks the others.
func (e *Engine) Run(ctx context.Context, opts RunOpts) error {
	log := zap.L().With(zap.String("component", "materialize.engine"))
	now := time.Now().UTC()

	defs, err := e.selectFeatures(ctx, opts)
	if err != nil {
		return err
	}
	if len(defs) == 0 {
		log.Info("no batch features selected")
		return nil
	}

	log.Info("selected features", zap.Int("count", len(defs)))

	var materialized, skipped, failed int

	for _, def := range defs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		fLog := log.With(zap.String("feature", def.FeatureID))

		impl, err := e.lib.Get(def.FeatureID)
		if err != nil {
			fLog.Warn("registered feature has no implementation, skipping")
			skipped++
			continue
		}

		if !opts.Force {
			last, err := e.log.LastSuccess(ctx, def.FeatureID)
			if err != nil {
				return eris.Wrapf(err, "engine: check last run for %s", def.FeatureID)
			}
			if !Due(def.Cadence, now, last) {
				fLog.Debug("skipping (not due)")
				skipped++
				continue
			}
		}

		switch e.runOne(ctx, fLog, impl, now) {
		case runOutcomeSuccess:
			materialized++
		case runOutcomeSkipped:
			skipped++
		case runOutcomeFailed:
			failed++
		}
	}

	log.Info("engine run complete",
		zap.Int("materialized", materialized),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed),
	)
	return nil
}

type runOutcome int

const (
	runOutcomeSuccess runOutcome = iota
	runOutcomeSkipped
	runOutcomeFailed
)

// runOne executes a single feature run under the compute-log lock.
func (e *Engine) runOne(ctx context.Context, fLog *zap.Logger, impl Feature, asOf time.Time) runOutcome {
	runID, err := e.log.StartRun(ctx, impl.Name(), e.lockTimeout)
	if err != nil {
		if errors.Is(err, ErrRunLocked) {
			fLog.Info("skipping (run lock held)")
			return runOutcomeSkipped
		}
		fLog.Error("failed to acquire run lock", zap.Error(err))
		return runOutcomeFailed
	}

	start := time.Now()
	values, err := impl.Materialize(ctx, e.pool, asOf)
	if err != nil {
		e.recordFailure(ctx, fLog, impl.Name(), runID, err)
		return runOutcomeFailed
	}

	facts := make([]model.Fact, 0, len(values))
	for _, v := range values {
		facts = append(facts, model.Fact{
			EntityID:   v.EntityID,
			EntityType: impl.EntityType(),
			FeatureID:  impl.Name(),
			Value:      v.Value,
			AsOf:       asOf,
		})
	}

	n, err := e.store.AppendFacts(ctx, facts)
	if err != nil {
		e.recordFailure(ctx, fLog, impl.Name(), runID, err)
		return runOutcomeFailed
	}

	if err := e.log.Complete(ctx, runID, n); err != nil {
		fLog.Error("failed to record run completion", zap.Error(err))
	}

	metrics.RunsTotal.WithLabelValues(impl.Name(), "success").Inc()
	metrics.FactsAppended.WithLabelValues(impl.Name()).Add(float64(n))
	fLog.Info("feature materialized",
		zap.Int64("facts", n),
		zap.Duration("elapsed", time.Since(start)),
	)
	return runOutcomeSuccess
}

func (e *Engine) recordFailure(ctx context.Context, fLog *zap.Logger, featureID, runID string, cause error) {
	fLog.Error("materialization failed", zap.Error(cause))
	metrics.RunsTotal.WithLabelValues(featureID, "failed").Inc()
	if err := e.log.Fail(ctx, runID, cause.Error()); err != nil {
		fLog.Error("failed to record run failure", zap.Error(err))
	}
}

// selectFeatures resolves the active batch definitions to run, restricted to
// opts.Features when given.
func (e *Engine) selectFeatures(ctx context.Context, opts RunOpts) ([]model.FeatureDefinition, error) {
	if len(opts.Features) > 0 {
		defs := make([]model.FeatureDefinition, 0, len(opts.Features))
		for _, fid := range opts.Features {
			def, err := e.reg.Get(ctx, fid)
			if err != nil {
				return nil, err
			}
			if !def.Active || def.Mode != model.ModeBatch {
				continue
			}
			defs = append(defs, *def)
		}
		return defs, nil
	}

	all, err := e.reg.List(ctx, true)
	if err != nil {
		return nil, err
	}
	defs := all[:0]
	for _, def := range all {
		if def.Mode == model.ModeBatch {
			defs = append(defs, def)
		}
	}
	return defs, nil
}
