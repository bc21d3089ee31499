package offline

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/feature-store/internal/model"
)

// as_of is stored as text, so it must be fixed-width for string comparison
// to match time order. RFC3339Nano trims trailing zeros, which breaks that
// ("...00.5Z" sorts before "...00Z"); this layout zero-pads to nanoseconds.
const sqliteAsOfLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements Store using modernc.org/sqlite, for local
// development and tests. Semantics match the Postgres driver: append-only
// facts, as-of retrieval with seq tie-break.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	d, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "offline: sqlite open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := d.Exec(pragma); err != nil {
			d.Close()
			return nil, eris.Wrapf(err, "offline: sqlite exec %s", pragma)
		}
	}
	return &SQLiteStore{db: d}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS facts (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_id   TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	feature_id  TEXT NOT NULL,
	value       TEXT,
	as_of       DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_facts_pit ON facts(entity_id, feature_id, as_of DESC, seq DESC);
CREATE INDEX IF NOT EXISTS idx_facts_feature_asof ON facts(feature_id, as_of);
`

// Migrate creates the fact table.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "offline: sqlite migrate")
}

// AppendFacts appends facts in one transaction.
func (s *SQLiteStore) AppendFacts(ctx context.Context, facts []model.Fact) (int64, error) {
	if len(facts) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "offline: sqlite begin")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO facts (entity_id, entity_type, feature_id, value, as_of) VALUES (?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "offline: sqlite prepare insert")
	}
	defer stmt.Close()

	for i := range facts {
		valueJSON, err := json.Marshal(facts[i].Value)
		if err != nil {
			return 0, eris.Wrapf(err, "offline: marshal value for %s/%s", facts[i].EntityID, facts[i].FeatureID)
		}
		if _, err := stmt.ExecContext(ctx,
			facts[i].EntityID, facts[i].EntityType, facts[i].FeatureID, string(valueJSON),
			facts[i].AsOf.UTC().Format(sqliteAsOfLayout),
		); err != nil {
			return 0, eris.Wrap(err, "offline: sqlite insert fact")
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "offline: sqlite commit")
	}
	return int64(len(facts)), nil
}

// FactsAfter returns facts for a feature past the sequence watermark.
func (s *SQLiteStore) FactsAfter(ctx context.Context, featureID string, afterSeq int64, limit int) ([]model.Fact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, entity_id, entity_type, feature_id, value, as_of
		 FROM facts WHERE feature_id = ? AND seq > ?
		 ORDER BY seq LIMIT ?`,
		featureID, afterSeq, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "offline: sqlite facts after for %s", featureID)
	}
	defer rows.Close()

	var facts []model.Fact
	for rows.Next() {
		f, err := scanSQLiteFact(rows)
		if err != nil {
			return nil, err
		}
		facts = append(facts, *f)
	}
	return facts, rows.Err()
}

// PointInTime runs the as-of selection per pair and feature. A pair whose
// lookup fails is returned with all features missing rather than failing the
// batch, matching the Postgres driver.
func (s *SQLiteStore) PointInTime(ctx context.Context, featureIDs []string, reqs []model.PointInTimeRequest) ([]model.PointInTimeRow, error) {
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

func (s *SQLiteStore) pointInTimeOne(ctx context.Context, featureIDs []string, req model.PointInTimeRequest) (map[string]any, error) {
	values := make(map[string]any, len(featureIDs))
	for _, fid := range featureIDs {
		var valueJSON string
		err := s.db.QueryRowContext(ctx,
			`SELECT value FROM facts
			 WHERE entity_id = ? AND feature_id = ? AND as_of <= ?
			 ORDER BY as_of DESC, seq DESC LIMIT 1`,
			req.EntityID, fid, req.AsOf.UTC().Format(sqliteAsOfLayout),
		).Scan(&valueJSON)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, eris.Wrapf(err, "offline: sqlite point-in-time for %s/%s", req.EntityID, fid)
		}
		var v any
		if err := json.Unmarshal([]byte(valueJSON), &v); err != nil {
			return nil, eris.Wrapf(err, "offline: unmarshal value for %s", fid)
		}
		values[fid] = v
	}
	return values, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type sqliteRowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteFact(row sqliteRowScanner) (*model.Fact, error) {
	var (
		f         model.Fact
		valueJSON string
		asOf      string
	)
	if err := row.Scan(&f.Seq, &f.EntityID, &f.EntityType, &f.FeatureID, &valueJSON, &asOf); err != nil {
		return nil, eris.Wrap(err, "offline: sqlite scan fact")
	}
	t, err := time.Parse(sqliteAsOfLayout, asOf)
	if err != nil {
		return nil, eris.Wrapf(err, "offline: parse as_of %q", asOf)
	}
	f.AsOf = t
	if err := json.Unmarshal([]byte(valueJSON), &f.Value); err != nil {
		return nil, eris.Wrapf(err, "offline: unmarshal value seq=%d", f.Seq)
	}
	return &f, nil
}
