package online

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

// PostgresStore implements Store on the feature_store.online_vectors table.
// The vector and its per-feature as_of map are jsonb columns merged with the
// || operator, so applying a partial update never clobbers other features.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgres creates a PostgresStore on the given pool.
func NewPostgres(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// GetVector returns the entity's vector or model.ErrNotFound.
func (s *PostgresStore) GetVector(ctx context.Context, entityType, entityID string) (*model.OnlineVector, error) {
	var (
		vectorJSON []byte
		asOfJSON   []byte
		updated    time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT vector, value_as_of, last_updated
		 FROM feature_store.online_vectors
		 WHERE entity_type = $1 AND entity_id = $2`,
		entityType, entityID,
	).Scan(&vectorJSON, &asOfJSON, &updated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(model.ErrNotFound, "online: entity %s/%s", entityType, entityID)
		}
		return nil, eris.Wrapf(err, "online: get vector %s/%s", entityType, entityID)
	}

	vec := &model.OnlineVector{
		EntityID:    entityID,
		EntityType:  entityType,
		LastUpdated: updated,
	}
	if err := json.Unmarshal(vectorJSON, &vec.Values); err != nil {
		return nil, eris.Wrapf(err, "online: unmarshal vector %s/%s", entityType, entityID)
	}
	if err := json.Unmarshal(asOfJSON, &vec.AsOf); err != nil {
		return nil, eris.Wrapf(err, "online: unmarshal as_of map %s/%s", entityType, entityID)
	}
	return vec, nil
}

// Apply merges the non-stale updates via a jsonb-merge upsert. Staleness is
// judged per feature against the stored as_of, not last_updated, so a
// duplicate delivery of one feature never blocks fresh values of another.
func (s *PostgresStore) Apply(ctx context.Context, entityType, entityID string, updates []Update) (int, int, error) {
	if len(updates) == 0 {
		return 0, 0, nil
	}

	current, err := s.currentAsOf(ctx, entityType, entityID)
	if err != nil {
		return 0, 0, err
	}

	values := make(map[string]any, len(updates))
	asOf := make(map[string]time.Time, len(updates))
	stale := 0
	for _, u := range updates {
		if prior, ok := current[u.FeatureID]; ok && !u.AsOf.After(prior) {
			stale++
			continue
		}
		// Within one batch, keep the newest as_of per feature.
		if prior, ok := asOf[u.FeatureID]; ok && !u.AsOf.After(prior) {
			stale++
			continue
		}
		values[u.FeatureID] = u.Value
		asOf[u.FeatureID] = u.AsOf.UTC()
	}
	if len(values) == 0 {
		return 0, stale, nil
	}

	vectorJSON, err := json.Marshal(values)
	if err != nil {
		return 0, stale, eris.Wrap(err, "online: marshal vector delta")
	}
	asOfJSON, err := json.Marshal(asOf)
	if err != nil {
		return 0, stale, eris.Wrap(err, "online: marshal as_of delta")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO feature_store.online_vectors (entity_type, entity_id, vector, value_as_of, last_updated)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (entity_type, entity_id) DO UPDATE SET
		   vector = feature_store.online_vectors.vector || EXCLUDED.vector,
		   value_as_of = feature_store.online_vectors.value_as_of || EXCLUDED.value_as_of,
		   last_updated = now()`,
		entityType, entityID, vectorJSON, asOfJSON,
	)
	if err != nil {
		return 0, stale, eris.Wrapf(err, "online: upsert vector %s/%s", entityType, entityID)
	}
	return len(values), stale, nil
}

func (s *PostgresStore) currentAsOf(ctx context.Context, entityType, entityID string) (map[string]time.Time, error) {
	var asOfJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT value_as_of FROM feature_store.online_vectors
		 WHERE entity_type = $1 AND entity_id = $2`,
		entityType, entityID,
	).Scan(&asOfJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "online: current as_of %s/%s", entityType, entityID)
	}
	var current map[string]time.Time
	if err := json.Unmarshal(asOfJSON, &current); err != nil {
		return nil, eris.Wrapf(err, "online: unmarshal current as_of %s/%s", entityType, entityID)
	}
	return current, nil
}

// Close is a no-op; the pool belongs to the caller.
func (s *PostgresStore) Close() error { return nil }
