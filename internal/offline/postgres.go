package offline

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/feature-store/internal/db"
	"github.com/sells-group/feature-store/internal/model"
)

// PostgresStore implements Store on the feature_store.facts table.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres creates a PostgresStore on an existing pool. The pool's
// lifecycle belongs to the caller unless closeFn is provided.
func NewPostgres(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var factColumns = []string{"entity_id", "entity_type", "feature_id", "value", "as_of"}

// AppendFacts writes facts via COPY. Values are stored as JSONB so any
// declared value type round-trips without schema changes.
func (s *PostgresStore) AppendFacts(ctx context.Context, facts []model.Fact) (int64, error) {
	if len(facts) == 0 {
		return 0, nil
	}

	rows := make([][]any, 0, len(facts))
	for i := range facts {
		valueJSON, err := json.Marshal(facts[i].Value)
		if err != nil {
			return 0, eris.Wrapf(err, "offline: marshal value for %s/%s", facts[i].EntityID, facts[i].FeatureID)
		}
		rows = append(rows, []any{
			facts[i].EntityID, facts[i].EntityType, facts[i].FeatureID, valueJSON, facts[i].AsOf.UTC(),
		})
	}

	n, err := db.CopyFromSchema(ctx, s.pool, "feature_store", "facts", factColumns, rows)
	if err != nil {
		return 0, eris.Wrap(err, "offline: append facts")
	}
	return n, nil
}

// FactsAfter returns facts for a feature past the sequence watermark, in
// sequence order so consumers advance monotonically.
func (s *PostgresStore) FactsAfter(ctx context.Context, featureID string, afterSeq int64, limit int) ([]model.Fact, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT seq, entity_id, entity_type, feature_id, value, as_of
		 FROM feature_store.facts
		 WHERE feature_id = $1 AND seq > $2
		 ORDER BY seq
		 LIMIT $3`,
		featureID, afterSeq, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "offline: facts after seq %d for %s", afterSeq, featureID)
	}
	defer rows.Close()

	var facts []model.Fact
	for rows.Next() {
		var (
			f         model.Fact
			valueJSON []byte
		)
		if err := rows.Scan(&f.Seq, &f.EntityID, &f.EntityType, &f.FeatureID, &valueJSON, &f.AsOf); err != nil {
			return nil, eris.Wrap(err, "offline: scan fact")
		}
		if err := json.Unmarshal(valueJSON, &f.Value); err != nil {
			return nil, eris.Wrapf(err, "offline: unmarshal value seq=%d", f.Seq)
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// PointInTime runs the as-of join one request pair at a time: the most
// recent fact per feature not exceeding the pair's timestamp, ties broken by
// insertion sequence. A pair whose query fails is returned with all features
// missing rather than failing the batch.
func (s *PostgresStore) PointInTime(ctx context.Context, featureIDs []string, reqs []model.PointInTimeRequest) ([]model.PointInTimeRow, error) {
	log := zap.L().With(zap.String("component", "offline.pit"))

	out := make([]model.PointInTimeRow, 0, len(reqs))
	for _, req := range reqs {
		row := model.PointInTimeRow{
			EntityID: req.EntityID,
			AsOf:     req.AsOf,
			Values:   make(map[string]any, len(featureIDs)),
		}

		values, err := s.pointInTimeOne(ctx, featureIDs, req)
		if err != nil {
			log.Warn("point-in-time lookup failed for pair",
				zap.String("entity_id", req.EntityID),
				zap.Time("as_of", req.AsOf),
				zap.Error(err),
			)
			row.Missing = append([]string(nil), featureIDs...)
			out = append(out, row)
			continue
		}

		for _, fid := range featureIDs {
			if v, ok := values[fid]; ok {
				row.Values[fid] = v
			} else {
				row.Missing = append(row.Missing, fid)
			}
		}
		out = append(out, row)
	}
	return out, nil
}

func (s *PostgresStore) pointInTimeOne(ctx context.Context, featureIDs []string, req model.PointInTimeRequest) (map[string]any, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT ON (feature_id) feature_id, value
		 FROM feature_store.facts
		 WHERE entity_id = $1 AND feature_id = ANY($2) AND as_of <= $3
		 ORDER BY feature_id, as_of DESC, seq DESC`,
		req.EntityID, featureIDs, req.AsOf.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "offline: point-in-time query")
	}
	defer rows.Close()

	values := make(map[string]any)
	for rows.Next() {
		var (
			fid       string
			valueJSON []byte
		)
		if err := rows.Scan(&fid, &valueJSON); err != nil {
			return nil, eris.Wrap(err, "offline: scan point-in-time row")
		}
		var v any
		if err := json.Unmarshal(valueJSON, &v); err != nil {
			return nil, eris.Wrapf(err, "offline: unmarshal value for %s", fid)
		}
		values[fid] = v
	}
	return values, rows.Err()
}

// Close releases the pool if this store owns it.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}
