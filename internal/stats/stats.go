// Package stats computes daily distributional summaries of feature values
// from the offline fact log. Summaries are keyed by (feature, day) and
// recomputation overwrites the prior row, so a rerun after late facts is
// safe.
package stats

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/feature-store/internal/db"
	"github.com/sells-group/feature-store/internal/model"
)

// Engine computes and persists per-feature daily statistics.
type Engine struct {
	pool db.Pool
	log  *zap.Logger
}

// NewEngine creates a statistics engine on the given pool.
func NewEngine(pool db.Pool) *Engine {
	return &Engine{
		pool: pool,
		log:  zap.L().With(zap.String("component", "stats")),
	}
}

// Percentiles and aggregates are computed over the numeric cast of the
// jsonb scalar. Booleans count toward null_rate's denominator but are cast
// as 0/1 so boolean features still get a meaningful mean.
const computeDayQuery = `
SELECT
	count(*),
	COALESCE(avg(num), 0),
	COALESCE(stddev_samp(num), 0),
	COALESCE(percentile_cont(0.25) WITHIN GROUP (ORDER BY num), 0),
	COALESCE(percentile_cont(0.50) WITHIN GROUP (ORDER BY num), 0),
	COALESCE(percentile_cont(0.75) WITHIN GROUP (ORDER BY num), 0),
	COALESCE(percentile_cont(0.95) WITHIN GROUP (ORDER BY num), 0),
	CASE WHEN count(*) = 0 THEN 0
	     ELSE count(*) FILTER (WHERE jsonb_typeof(value) = 'null')::float8 / count(*) END,
	count(DISTINCT value) FILTER (WHERE jsonb_typeof(value) <> 'null')
FROM (
	SELECT value,
	       CASE jsonb_typeof(value)
	            WHEN 'number'  THEN (value #>> '{}')::float8
	            WHEN 'boolean' THEN CASE WHEN (value #>> '{}')::bool THEN 1 ELSE 0 END
	            ELSE NULL
	       END AS num
	FROM feature_store.facts
	WHERE feature_id = $1 AND as_of >= $2 AND as_of < $3
) samples`

// ComputeDay computes one feature's summary for the UTC calendar day
// containing the given time. A day with no facts returns nil.
func (e *Engine) ComputeDay(ctx context.Context, featureID string, day time.Time) (*model.FeatureStats, error) {
	start := day.UTC().Truncate(24 * time.Hour)
	end := start.Add(24 * time.Hour)

	st := model.FeatureStats{FeatureID: featureID, Date: start}
	err := e.pool.QueryRow(ctx, computeDayQuery, featureID, start, end).Scan(
		&st.Count, &st.Mean, &st.Stddev,
		&st.P25, &st.P50, &st.P75, &st.P95,
		&st.NullRate, &st.DistinctCount,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "stats: compute day for %s", featureID)
	}
	if st.Count == 0 {
		return nil, nil
	}
	return &st, nil
}

var statColumns = []string{
	"feature_id", "stat_date", "row_count", "mean", "stddev",
	"p25", "p50", "p75", "p95", "null_rate", "distinct_count",
}

// ComputeAndStore computes the day's summary for each feature and upserts
// the results, returning the rows written. Features with no facts that day
// are skipped, not zero-filled.
func (e *Engine) ComputeAndStore(ctx context.Context, featureIDs []string, day time.Time) ([]model.FeatureStats, error) {
	computed := make([]model.FeatureStats, 0, len(featureIDs))
	rows := make([][]any, 0, len(featureIDs))
	for _, fid := range featureIDs {
		st, err := e.ComputeDay(ctx, fid, day)
		if err != nil {
			return nil, err
		}
		if st == nil {
			continue
		}
		computed = append(computed, *st)
		rows = append(rows, []any{
			st.FeatureID, st.Date, st.Count, st.Mean, st.Stddev,
			st.P25, st.P50, st.P75, st.P95, st.NullRate, st.DistinctCount,
		})
	}
	if len(rows) == 0 {
		e.log.Info("no facts for any feature on day", zap.Time("day", day.UTC().Truncate(24*time.Hour)))
		return nil, nil
	}

	n, err := db.BulkUpsert(ctx, e.pool, db.UpsertConfig{
		Table:        "feature_store.feature_statistics",
		Columns:      statColumns,
		ConflictKeys: []string{"feature_id", "stat_date"},
	}, rows)
	if err != nil {
		return nil, eris.Wrap(err, "stats: store summaries")
	}

	e.log.Info("daily statistics stored",
		zap.Time("day", computed[0].Date),
		zap.Int("features", len(computed)),
		zap.Int64("rows", n),
	)
	return computed, nil
}

// Between returns stored summaries for a feature over [from, to), oldest
// first. Days without a row are simply absent.
func (e *Engine) Between(ctx context.Context, featureID string, from, to time.Time) ([]model.FeatureStats, error) {
	rows, err := e.pool.Query(ctx,
		`SELECT feature_id, stat_date, row_count, mean, stddev,
		        p25, p50, p75, p95, null_rate, distinct_count
		 FROM feature_store.feature_statistics
		 WHERE feature_id = $1 AND stat_date >= $2 AND stat_date < $3
		 ORDER BY stat_date`,
		featureID, from.UTC(), to.UTC(),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "stats: load summaries for %s", featureID)
	}
	defer rows.Close()

	var out []model.FeatureStats
	for rows.Next() {
		var st model.FeatureStats
		if err := rows.Scan(
			&st.FeatureID, &st.Date, &st.Count, &st.Mean, &st.Stddev,
			&st.P25, &st.P50, &st.P75, &st.P95, &st.NullRate, &st.DistinctCount,
		); err != nil {
			return nil, eris.Wrap(err, "stats: scan summary")
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
