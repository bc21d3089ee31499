// Package registry is the durable feature catalog: the single source of
// truth for feature definitions, versions, and feature sets. All other
// components read feature metadata through it.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/feature-store/internal/db"
	"github.com/sells-group/feature-store/internal/model"
)

// Registry provides catalog access backed by the feature_store schema.
type Registry struct {
	pool db.Pool
}

// New creates a Registry on the given pool.
func New(pool db.Pool) *Registry {
	return &Registry{pool: pool}
}

// Register creates version 1 of a new feature definition and returns its
// feature_id. Registering an id that already exists is idempotent when the
// declared value type and mode match; a mismatch is a validation error
// because type and mode only change via NewVersion.
func (r *Registry) Register(ctx context.Context, def *model.FeatureDefinition) (string, error) {
	if err := def.Validate(); err != nil {
		return "", err
	}

	existing, err := r.Get(ctx, def.FeatureID)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return "", err
	}
	if existing != nil {
		if existing.ValueType != def.ValueType || existing.Mode != def.Mode {
			return "", eris.Wrapf(model.ErrValidation,
				"registry: feature %s exists with type=%s mode=%s; bump the version to change them",
				def.FeatureID, existing.ValueType, existing.Mode)
		}
		return existing.FeatureID, nil
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO feature_store.feature_definitions
		 (feature_id, version, display_name, feature_group, entity_type, value_type, mode, expression, cadence, active)
		 VALUES ($1, 1, $2, $3, $4, $5, $6, $7, $8, TRUE)`,
		def.FeatureID, def.DisplayName, def.Group, def.EntityType,
		string(def.ValueType), string(def.Mode), def.Expression, string(def.Cadence),
	)
	if err != nil {
		return "", eris.Wrapf(err, "registry: insert feature %s", def.FeatureID)
	}
	return def.FeatureID, nil
}

// NewVersion inserts the next version of an existing feature and retires the
// prior version from new materialization runs. Historical facts written
// under earlier versions remain readable.
func (r *Registry) NewVersion(ctx context.Context, def *model.FeatureDefinition) (int, error) {
	if err := def.Validate(); err != nil {
		return 0, err
	}

	existing, err := r.Get(ctx, def.FeatureID)
	if err != nil {
		return 0, err
	}
	next := existing.Version + 1

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "registry: begin version bump")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`UPDATE feature_store.feature_definitions SET active = FALSE WHERE feature_id = $1`,
		def.FeatureID,
	); err != nil {
		return 0, eris.Wrapf(err, "registry: retire prior versions of %s", def.FeatureID)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO feature_store.feature_definitions
		 (feature_id, version, display_name, feature_group, entity_type, value_type, mode, expression, cadence, active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE)`,
		def.FeatureID, next, def.DisplayName, def.Group, def.EntityType,
		string(def.ValueType), string(def.Mode), def.Expression, string(def.Cadence),
	); err != nil {
		return 0, eris.Wrapf(err, "registry: insert version %d of %s", next, def.FeatureID)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "registry: commit version bump")
	}
	return next, nil
}

// Deactivate excludes a feature from new materialization runs. It is
// idempotent; historical facts and definitions stay readable.
func (r *Registry) Deactivate(ctx context.Context, featureID string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE feature_store.feature_definitions SET active = FALSE WHERE feature_id = $1`,
		featureID,
	)
	if err != nil {
		return eris.Wrapf(err, "registry: deactivate %s", featureID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(model.ErrNotFound, "registry: feature %s", featureID)
	}
	return nil
}

// Get returns the latest version of a feature definition.
func (r *Registry) Get(ctx context.Context, featureID string) (*model.FeatureDefinition, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT feature_id, version, display_name, feature_group, entity_type, value_type, mode, expression, cadence, active, created_at
		 FROM feature_store.feature_definitions
		 WHERE feature_id = $1
		 ORDER BY version DESC LIMIT 1`,
		featureID,
	)
	def, err := scanDefinition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(model.ErrNotFound, "registry: feature %s", featureID)
		}
		return nil, eris.Wrapf(err, "registry: get feature %s", featureID)
	}
	return def, nil
}

// List returns the latest version of every definition, optionally limited to
// active ones, ordered by feature_id.
func (r *Registry) List(ctx context.Context, activeOnly bool) ([]model.FeatureDefinition, error) {
	q := `SELECT DISTINCT ON (feature_id)
	        feature_id, version, display_name, feature_group, entity_type, value_type, mode, expression, cadence, active, created_at
	      FROM feature_store.feature_definitions
	      ORDER BY feature_id, version DESC`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, eris.Wrap(err, "registry: list features")
	}
	defer rows.Close()

	var defs []model.FeatureDefinition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, eris.Wrap(err, "registry: scan feature")
		}
		if activeOnly && !def.Active {
			continue
		}
		defs = append(defs, *def)
	}
	return defs, rows.Err()
}

// CreateSet creates a named, ordered feature set. Every member must exist
// and be active at creation time; the member list is snapshotted by value.
func (r *Registry) CreateSet(ctx context.Context, setID, name string, featureIDs []string) (*model.FeatureSet, error) {
	if setID == "" || name == "" {
		return nil, eris.Wrap(model.ErrValidation, "registry: set_id and name are required")
	}
	if len(featureIDs) == 0 {
		return nil, eris.Wrap(model.ErrValidation, "registry: feature set needs at least one feature")
	}

	for _, fid := range featureIDs {
		def, err := r.Get(ctx, fid)
		if err != nil {
			return nil, err
		}
		if !def.Active {
			return nil, eris.Wrapf(model.ErrValidation, "registry: feature %s is inactive", fid)
		}
	}

	// MAX(version)+1 stays correct even if a row is ever removed; the unique
	// (name, version) index rejects the loser of a concurrent create.
	var version int
	if err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM feature_store.feature_sets WHERE name = $1`,
		name,
	).Scan(&version); err != nil {
		return nil, eris.Wrapf(err, "registry: next version for set %s", name)
	}

	membersJSON, err := json.Marshal(featureIDs)
	if err != nil {
		return nil, eris.Wrap(err, "registry: marshal set members")
	}

	now := time.Now().UTC()
	if _, err := r.pool.Exec(ctx,
		`INSERT INTO feature_store.feature_sets (set_id, name, version, features, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		setID, name, version, membersJSON, now,
	); err != nil {
		return nil, eris.Wrapf(err, "registry: insert set %s", setID)
	}

	return &model.FeatureSet{
		SetID:     setID,
		Name:      name,
		Version:   version,
		Features:  featureIDs,
		CreatedAt: now,
	}, nil
}

// GetSet returns a feature set by id.
func (r *Registry) GetSet(ctx context.Context, setID string) (*model.FeatureSet, error) {
	var (
		set         model.FeatureSet
		membersJSON []byte
	)
	err := r.pool.QueryRow(ctx,
		`SELECT set_id, name, version, features, created_at
		 FROM feature_store.feature_sets WHERE set_id = $1`,
		setID,
	).Scan(&set.SetID, &set.Name, &set.Version, &membersJSON, &set.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(model.ErrNotFound, "registry: feature set %s", setID)
		}
		return nil, eris.Wrapf(err, "registry: get set %s", setID)
	}
	if err := json.Unmarshal(membersJSON, &set.Features); err != nil {
		return nil, eris.Wrapf(err, "registry: unmarshal members of set %s", setID)
	}
	return &set, nil
}

// ResolveSet returns the ordered feature definitions of a set. It fails with
// NotFound if the set or any snapshotted member is missing from the catalog.
func (r *Registry) ResolveSet(ctx context.Context, setID string) ([]model.FeatureDefinition, error) {
	set, err := r.GetSet(ctx, setID)
	if err != nil {
		return nil, err
	}

	defs := make([]model.FeatureDefinition, 0, len(set.Features))
	for _, fid := range set.Features {
		def, err := r.Get(ctx, fid)
		if err != nil {
			return nil, err
		}
		defs = append(defs, *def)
	}
	return defs, nil
}

// rowScanner covers both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row rowScanner) (*model.FeatureDefinition, error) {
	var (
		def       model.FeatureDefinition
		valueType string
		mode      string
		cadence   string
	)
	err := row.Scan(&def.FeatureID, &def.Version, &def.DisplayName, &def.Group,
		&def.EntityType, &valueType, &mode, &def.Expression, &cadence, &def.Active, &def.CreatedAt)
	if err != nil {
		return nil, err
	}
	def.ValueType = model.ValueType(valueType)
	def.Mode = model.ComputeMode(mode)
	def.Cadence = model.Cadence(cadence)
	return &def, nil
}
