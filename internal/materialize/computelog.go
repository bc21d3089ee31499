package materialize

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/feature-store/internal/db"
	"github.com/sells-group/feature-store/internal/model"
)

// ErrRunLocked reports that another unexpired run holds the feature's lock.
var ErrRunLocked = errors.New("materialize: run lock held")

// ComputeLog provides access to the feature_store.compute_log table. A
// 'running' row younger than the lock timeout is the exclusive per-feature
// run lock; rows are released only by terminal status, never deleted.
type ComputeLog struct {
	pool db.Pool
}

// NewComputeLog creates a ComputeLog backed by the given pool.
func NewComputeLog(pool db.Pool) *ComputeLog {
	return &ComputeLog{pool: pool}
}

// StartRun acquires the run lock for a feature with a conditional insert and
// returns the new run id. It fails with ErrRunLocked if an unexpired
// 'running' row already exists; an expired one does not block, it is left
// for the reaper.
func (c *ComputeLog) StartRun(ctx context.Context, featureID string, lockTimeout time.Duration) (string, error) {
	runID := uuid.New().String()

	tag, err := c.pool.Exec(ctx,
		`INSERT INTO feature_store.compute_log (run_id, feature_id, status, started_at)
		 SELECT $1, $2, 'running', now()
		 WHERE NOT EXISTS (
		   SELECT 1 FROM feature_store.compute_log
		   WHERE feature_id = $2 AND status = 'running'
		     AND started_at > now() - make_interval(secs => $3)
		 )`,
		runID, featureID, lockTimeout.Seconds(),
	)
	if err != nil {
		return "", eris.Wrapf(err, "computelog: start run for %s", featureID)
	}
	if tag.RowsAffected() == 0 {
		return "", eris.Wrapf(ErrRunLocked, "computelog: feature %s", featureID)
	}
	return runID, nil
}

// Complete marks a run successful with its processed row count.
func (c *ComputeLog) Complete(ctx context.Context, runID string, rowsProcessed int64) error {
	_, err := c.pool.Exec(ctx,
		`UPDATE feature_store.compute_log
		 SET status = 'success', completed_at = now(), rows_processed = $1
		 WHERE run_id = $2`,
		rowsProcessed, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "computelog: complete run %s", runID)
	}
	return nil
}

// Fail marks a run failed with an error message.
func (c *ComputeLog) Fail(ctx context.Context, runID string, errMsg string) error {
	_, err := c.pool.Exec(ctx,
		`UPDATE feature_store.compute_log
		 SET status = 'failed', completed_at = now(), error = $1
		 WHERE run_id = $2`,
		errMsg, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "computelog: fail run %s", runID)
	}
	return nil
}

// Reap marks 'running' rows older than the lock timeout as timed out,
// releasing their locks. A wedged worker never releases its own lock; this
// is the only escape hatch.
func (c *ComputeLog) Reap(ctx context.Context, lockTimeout time.Duration) (int64, error) {
	tag, err := c.pool.Exec(ctx,
		`UPDATE feature_store.compute_log
		 SET status = 'timeout', completed_at = now(), error = 'exceeded run wall-clock budget'
		 WHERE status = 'running' AND started_at <= now() - make_interval(secs => $1)`,
		lockTimeout.Seconds(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "computelog: reap expired runs")
	}
	return tag.RowsAffected(), nil
}

// LastSuccess returns the started_at of the most recent successful run for a
// feature, or nil if it has never succeeded.
func (c *ComputeLog) LastSuccess(ctx context.Context, featureID string) (*time.Time, error) {
	var t time.Time
	err := c.pool.QueryRow(ctx,
		`SELECT started_at FROM feature_store.compute_log
		 WHERE feature_id = $1 AND status = 'success'
		 ORDER BY started_at DESC LIMIT 1`,
		featureID,
	).Scan(&t)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "computelog: last success for %s", featureID)
	}
	return &t, nil
}

// List returns the most recent runs, newest first.
func (c *ComputeLog) List(ctx context.Context, limit int) ([]model.ComputeRun, error) {
	rows, err := c.pool.Query(ctx,
		`SELECT run_id, feature_id, status, started_at, completed_at, rows_processed, error
		 FROM feature_store.compute_log
		 ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "computelog: list runs")
	}
	defer rows.Close()

	var runs []model.ComputeRun
	for rows.Next() {
		var (
			r      model.ComputeRun
			status string
			errStr *string
		)
		if err := rows.Scan(&r.RunID, &r.FeatureID, &status, &r.StartedAt, &r.CompletedAt, &r.RowsProcessed, &errStr); err != nil {
			return nil, eris.Wrap(err, "computelog: scan run")
		}
		r.Status = model.RunStatus(status)
		if errStr != nil {
			r.Error = *errStr
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
