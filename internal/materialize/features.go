package materialize

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/feature-store/internal/db"
	"github.com/sells-group/feature-store/internal/model"
)

// SQLFeature materializes a feature from a single aggregate query against
// the raw banking schema. The query must return (entity_id, value) rows and
// take the run's as_of as $1 so windows are anchored to the run, not to
// now() inside the database.
type SQLFeature struct {
	FeatureName string
	Display     string
	Group       string
	Entity      string
	Type        model.ValueType
	ComputeMode model.ComputeMode
	Refresh     model.Cadence
	Query       string
	Expr        string // human-readable expression recorded in the catalog
}

// Definition builds the catalog row for this feature.
func (f *SQLFeature) Definition() *model.FeatureDefinition {
	return Definition(f, f.Display, f.Group, f.Expr)
}

func (f *SQLFeature) Name() string               { return f.FeatureName }
func (f *SQLFeature) EntityType() string         { return f.Entity }
func (f *SQLFeature) ValueType() model.ValueType { return f.Type }
func (f *SQLFeature) Mode() model.ComputeMode    { return f.ComputeMode }
func (f *SQLFeature) Cadence() model.Cadence     { return f.Refresh }

// Materialize runs the aggregate and returns one value per entity.
func (f *SQLFeature) Materialize(ctx context.Context, pool db.Pool, asOf time.Time) ([]EntityValue, error) {
	rows, err := pool.Query(ctx, f.Query, asOf.UTC())
	if err != nil {
		return nil, eris.Wrapf(err, "materialize: query for %s", f.FeatureName)
	}
	defer rows.Close()

	var out []EntityValue
	for rows.Next() {
		var (
			entityID string
			value    any
		)
		if err := rows.Scan(&entityID, &value); err != nil {
			return nil, eris.Wrapf(err, "materialize: scan row for %s", f.FeatureName)
		}
		out = append(out, EntityValue{EntityID: entityID, Value: value})
	}
	return out, rows.Err()
}

// Builtin batch features over the raw banking schema. Each is a trailing
// window anchored at the run's as_of; customers with no qualifying rows
// produce no fact.

// TxnCount30d counts a customer's transactions in the trailing 30 days.
func TxnCount30d() *SQLFeature {
	return &SQLFeature{
		FeatureName: "txn_count_30d",
		Display:     "Transaction count (30d)",
		Group:       "banking",
		Entity:      "customer",
		Type:        model.TypeNumeric,
		ComputeMode: model.ModeBatch,
		Refresh:     model.CadenceDaily,
		Expr:        "count(transactions) over trailing 30 days",
		Query: `SELECT customer_id, COUNT(*)::float8
		        FROM banking.transactions
		        WHERE created_at > $1::timestamptz - interval '30 days' AND created_at <= $1
		        GROUP BY customer_id`,
	}
}

// TxnSum30d sums a customer's transaction amounts in the trailing 30 days.
func TxnSum30d() *SQLFeature {
	return &SQLFeature{
		FeatureName: "txn_sum_30d",
		Display:     "Transaction sum (30d)",
		Group:       "banking",
		Entity:      "customer",
		Type:        model.TypeNumeric,
		ComputeMode: model.ModeBatch,
		Refresh:     model.CadenceDaily,
		Expr:        "sum(amount) over trailing 30 days",
		Query: `SELECT customer_id, SUM(amount)::float8
		        FROM banking.transactions
		        WHERE created_at > $1::timestamptz - interval '30 days' AND created_at <= $1
		        GROUP BY customer_id`,
	}
}

// TxnAvg30d averages a customer's transaction amounts in the trailing 30 days.
func TxnAvg30d() *SQLFeature {
	return &SQLFeature{
		FeatureName: "txn_avg_30d",
		Display:     "Transaction average (30d)",
		Group:       "banking",
		Entity:      "customer",
		Type:        model.TypeNumeric,
		ComputeMode: model.ModeBatch,
		Refresh:     model.CadenceDaily,
		Expr:        "avg(amount) over trailing 30 days",
		Query: `SELECT customer_id, AVG(amount)::float8
		        FROM banking.transactions
		        WHERE created_at > $1::timestamptz - interval '30 days' AND created_at <= $1
		        GROUP BY customer_id`,
	}
}

// DaysSinceLastTxn measures recency of a customer's most recent transaction.
func DaysSinceLastTxn() *SQLFeature {
	return &SQLFeature{
		FeatureName: "days_since_last_txn",
		Display:     "Days since last transaction",
		Group:       "banking",
		Entity:      "customer",
		Type:        model.TypeNumeric,
		ComputeMode: model.ModeBatch,
		Refresh:     model.CadenceDaily,
		Expr:        "days between as_of and max(created_at)",
		Query: `SELECT customer_id, EXTRACT(EPOCH FROM $1::timestamptz - MAX(created_at)) / 86400.0
		        FROM banking.transactions
		        WHERE created_at <= $1
		        GROUP BY customer_id`,
	}
}

// ActiveAccountCount counts a customer's currently active accounts.
func ActiveAccountCount() *SQLFeature {
	return &SQLFeature{
		FeatureName: "active_account_count",
		Display:     "Active account count",
		Group:       "banking",
		Entity:      "customer",
		Type:        model.TypeNumeric,
		ComputeMode: model.ModeBatch,
		Refresh:     model.CadenceDaily,
		Expr:        "count(accounts where status = 'active')",
		Query: `SELECT customer_id, COUNT(*)::float8
		        FROM banking.accounts
		        WHERE status = 'active' AND opened_at <= $1
		        GROUP BY customer_id`,
	}
}

// Streaming features share the SQLFeature shape; the stream consumer
// restricts their recompute to the entities seen on the feed via
// RecomputeFor.

// TxnCount1h counts a customer's transactions in the trailing hour.
func TxnCount1h() *SQLFeature {
	return &SQLFeature{
		FeatureName: "txn_count_1h",
		Display:     "Transaction count (1h)",
		Group:       "banking",
		Entity:      "customer",
		Type:        model.TypeNumeric,
		ComputeMode: model.ModeStreaming,
		Expr:        "count(transactions) over trailing 1 hour",
		Query: `SELECT customer_id, COUNT(*)::float8
		        FROM banking.transactions
		        WHERE created_at > $1::timestamptz - interval '1 hour' AND created_at <= $1
		        GROUP BY customer_id`,
	}
}

// TxnSum1h sums a customer's transaction amounts in the trailing hour.
func TxnSum1h() *SQLFeature {
	return &SQLFeature{
		FeatureName: "txn_sum_1h",
		Display:     "Transaction sum (1h)",
		Group:       "banking",
		Entity:      "customer",
		Type:        model.TypeNumeric,
		ComputeMode: model.ModeStreaming,
		Expr:        "sum(amount) over trailing 1 hour",
		Query: `SELECT customer_id, SUM(amount)::float8
		        FROM banking.transactions
		        WHERE created_at > $1::timestamptz - interval '1 hour' AND created_at <= $1
		        GROUP BY customer_id`,
	}
}

// RecomputeFor recomputes a streaming feature's fixed window fresh for just
// the given entities. The window is always recomputed in full each tick
// rather than incrementally decayed, which keeps consumer state bounded.
func (f *SQLFeature) RecomputeFor(ctx context.Context, pool db.Pool, entityIDs []string, asOf time.Time) ([]EntityValue, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}

	query := f.Query + ` HAVING customer_id = ANY($2)`
	// GROUP BY ... HAVING on the key keeps the base query shared between the
	// full run and the restricted recompute.
	rows, err := pool.Query(ctx, query, asOf.UTC(), entityIDs)
	if err != nil {
		return nil, eris.Wrapf(err, "materialize: restricted recompute for %s", f.FeatureName)
	}
	defer rows.Close()

	var out []EntityValue
	for rows.Next() {
		var (
			entityID string
			value    any
		)
		if err := rows.Scan(&entityID, &value); err != nil {
			return nil, eris.Wrapf(err, "materialize: scan recompute row for %s", f.FeatureName)
		}
		out = append(out, EntityValue{EntityID: entityID, Value: value})
	}
	return out, rows.Err()
}
