// Package training assembles point-in-time correct training datasets: each
// labeled example is joined against the feature values that were knowable at
// its label time, never after.
package training

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/feature-store/internal/db"
	"github.com/sells-group/feature-store/internal/model"
	"github.com/sells-group/feature-store/internal/offline"
)

// Label is one supervised example to join features onto.
type Label struct {
	EntityID  string    `json:"entity_id"`
	LabelTime time.Time `json:"label_time"`
	Label     any       `json:"label"`
}

// Row is one materialized dataset row.
type Row struct {
	EntityID  string         `json:"entity_id"`
	LabelTime time.Time      `json:"label_time"`
	Label     any            `json:"label"`
	Features  map[string]any `json:"features"`
	Missing   []string       `json:"missing,omitempty"`
}

// SetSource resolves a feature set snapshot.
type SetSource interface {
	GetSet(ctx context.Context, setID string) (*model.FeatureSet, error)
}

// Builder generates and persists dataset artifacts.
type Builder struct {
	sets  SetSource
	store offline.Store
	pool  db.Pool
	log   *zap.Logger
}

// NewBuilder creates a Builder.
func NewBuilder(sets SetSource, store offline.Store, pool db.Pool) *Builder {
	return &Builder{
		sets:  sets,
		store: store,
		pool:  pool,
		log:   zap.L().With(zap.String("component", "training")),
	}
}

// BuildOpts controls coverage handling.
type BuildOpts struct {
	// Strict fails the build when any row is missing a feature instead of
	// recording the gap and continuing.
	Strict bool
}

// Build joins each label against the feature set as of its label time and
// persists the result as an immutable artifact. Rows with missing features
// are kept and counted as coverage warnings unless opts.Strict is set.
func (b *Builder) Build(ctx context.Context, setID string, labels []Label, opts BuildOpts) (*model.DatasetArtifact, error) {
	if len(labels) == 0 {
		return nil, eris.Wrap(model.ErrValidation, "training: no labels provided")
	}

	set, err := b.sets.GetSet(ctx, setID)
	if err != nil {
		return nil, err
	}

	reqs := make([]model.PointInTimeRequest, 0, len(labels))
	for _, l := range labels {
		reqs = append(reqs, model.PointInTimeRequest{EntityID: l.EntityID, AsOf: l.LabelTime})
	}

	pitRows, err := b.store.PointInTime(ctx, set.Features, reqs)
	if err != nil {
		return nil, eris.Wrapf(err, "training: point-in-time join for set %s", setID)
	}
	if len(pitRows) != len(labels) {
		return nil, eris.Errorf("training: join returned %d rows for %d labels", len(pitRows), len(labels))
	}

	var warnings int64
	rows := make([]Row, 0, len(labels))
	for i, l := range labels {
		r := Row{
			EntityID:  l.EntityID,
			LabelTime: l.LabelTime,
			Label:     l.Label,
			Features:  pitRows[i].Values,
			Missing:   pitRows[i].Missing,
		}
		if len(r.Missing) > 0 {
			if opts.Strict {
				return nil, eris.Wrapf(model.ErrIncompleteCoverage,
					"training: entity %s at %s missing %v",
					l.EntityID, l.LabelTime.Format(time.RFC3339), r.Missing)
			}
			warnings++
		}
		rows = append(rows, r)
	}

	artifact := &model.DatasetArtifact{
		DatasetID:        uuid.NewString(),
		FeatureSetID:     set.SetID,
		FeatureSetVer:    set.Version,
		WindowStart:      labels[0].LabelTime,
		WindowEnd:        labels[0].LabelTime,
		RowCount:         int64(len(rows)),
		CoverageWarnings: warnings,
		CreatedAt:        time.Now().UTC(),
	}
	for _, l := range labels {
		if l.LabelTime.Before(artifact.WindowStart) {
			artifact.WindowStart = l.LabelTime
		}
		if l.LabelTime.After(artifact.WindowEnd) {
			artifact.WindowEnd = l.LabelTime
		}
	}

	if err := b.persist(ctx, artifact, rows); err != nil {
		return nil, err
	}

	if warnings > 0 {
		b.log.Warn("dataset built with coverage gaps",
			zap.String("dataset_id", artifact.DatasetID),
			zap.Int64("rows", artifact.RowCount),
			zap.Int64("rows_with_gaps", warnings),
		)
	} else {
		b.log.Info("dataset built",
			zap.String("dataset_id", artifact.DatasetID),
			zap.Int64("rows", artifact.RowCount),
		)
	}
	return artifact, nil
}

var datasetRowColumns = []string{"dataset_id", "entity_id", "label_time", "label", "features", "missing"}

func (b *Builder) persist(ctx context.Context, artifact *model.DatasetArtifact, rows []Row) error {
	_, err := b.pool.Exec(ctx,
		`INSERT INTO feature_store.training_datasets
		   (dataset_id, feature_set_id, feature_set_version, window_start, window_end, row_count, coverage_warnings, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		artifact.DatasetID, artifact.FeatureSetID, artifact.FeatureSetVer,
		artifact.WindowStart.UTC(), artifact.WindowEnd.UTC(),
		artifact.RowCount, artifact.CoverageWarnings, artifact.CreatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "training: insert dataset %s", artifact.DatasetID)
	}

	copyRows := make([][]any, 0, len(rows))
	for i := range rows {
		labelJSON, err := json.Marshal(rows[i].Label)
		if err != nil {
			return eris.Wrapf(err, "training: marshal label for %s", rows[i].EntityID)
		}
		featuresJSON, err := json.Marshal(rows[i].Features)
		if err != nil {
			return eris.Wrapf(err, "training: marshal features for %s", rows[i].EntityID)
		}
		var missingJSON []byte
		if len(rows[i].Missing) > 0 {
			missingJSON, err = json.Marshal(rows[i].Missing)
			if err != nil {
				return eris.Wrapf(err, "training: marshal missing for %s", rows[i].EntityID)
			}
		}
		copyRows = append(copyRows, []any{
			artifact.DatasetID, rows[i].EntityID, rows[i].LabelTime.UTC(),
			labelJSON, featuresJSON, missingJSON,
		})
	}

	if _, err := db.CopyFromSchema(ctx, b.pool, "feature_store", "training_dataset_rows", datasetRowColumns, copyRows); err != nil {
		return eris.Wrapf(err, "training: copy rows for %s", artifact.DatasetID)
	}
	return nil
}

// Get returns a dataset's artifact record or model.ErrNotFound.
func (b *Builder) Get(ctx context.Context, datasetID string) (*model.DatasetArtifact, error) {
	var a model.DatasetArtifact
	err := b.pool.QueryRow(ctx,
		`SELECT dataset_id, feature_set_id, feature_set_version, window_start, window_end, row_count, coverage_warnings, created_at
		 FROM feature_store.training_datasets WHERE dataset_id = $1`,
		datasetID,
	).Scan(&a.DatasetID, &a.FeatureSetID, &a.FeatureSetVer, &a.WindowStart, &a.WindowEnd,
		&a.RowCount, &a.CoverageWarnings, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(model.ErrNotFound, "training: dataset %s", datasetID)
		}
		return nil, eris.Wrapf(err, "training: get dataset %s", datasetID)
	}
	return &a, nil
}

// Rows returns a dataset's materialized rows in insertion order.
func (b *Builder) Rows(ctx context.Context, datasetID string) ([]Row, error) {
	rows, err := b.pool.Query(ctx,
		`SELECT entity_id, label_time, label, features, missing
		 FROM feature_store.training_dataset_rows WHERE dataset_id = $1`,
		datasetID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "training: rows for %s", datasetID)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			r            Row
			labelJSON    []byte
			featuresJSON []byte
			missingJSON  []byte
		)
		if err := rows.Scan(&r.EntityID, &r.LabelTime, &labelJSON, &featuresJSON, &missingJSON); err != nil {
			return nil, eris.Wrap(err, "training: scan row")
		}
		if len(labelJSON) > 0 {
			if err := json.Unmarshal(labelJSON, &r.Label); err != nil {
				return nil, eris.Wrap(err, "training: unmarshal label")
			}
		}
		if err := json.Unmarshal(featuresJSON, &r.Features); err != nil {
			return nil, eris.Wrap(err, "training: unmarshal features")
		}
		if len(missingJSON) > 0 {
			if err := json.Unmarshal(missingJSON, &r.Missing); err != nil {
				return nil, eris.Wrap(err, "training: unmarshal missing")
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
