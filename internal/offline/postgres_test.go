package offline

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/feature-store/internal/model"
)

func TestPostgresAppendFacts_CopiesJSONValues(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"feature_store", "facts"}, factColumns).
		WillReturnResult(2)

	asOf := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	n, err := NewPostgres(mock).AppendFacts(context.Background(), []model.Fact{
		fact("acct-1", "txn_count_30d", 12, asOf),
		fact("acct-1", "segment", "retail", asOf),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAppendFacts_Empty(t *testing.T) {
	n, err := NewPostgres(nil).AppendFacts(context.Background(), nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestPostgresFactsAfter(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	asOf := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	rows := pgxmock.NewRows([]string{"seq", "entity_id", "entity_type", "feature_id", "value", "as_of"}).
		AddRow(int64(11), "acct-1", "account", "txn_count_30d", []byte(`12`), asOf).
		AddRow(int64(12), "acct-2", "account", "txn_count_30d", []byte(`3`), asOf)
	mock.ExpectQuery("FROM feature_store.facts").
		WithArgs("txn_count_30d", int64(10), 100).
		WillReturnRows(rows)

	facts, err := NewPostgres(mock).FactsAfter(context.Background(), "txn_count_30d", 10, 100)
	require.NoError(t, err)
	require.Len(t, facts, 2)
	assert.Equal(t, int64(11), facts[0].Seq)
	assert.Equal(t, float64(12), facts[0].Value)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPointInTime_SplitsValuesAndMissing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	asOf := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	features := []string{"txn_count_30d", "txn_sum_30d"}
	mock.ExpectQuery("SELECT DISTINCT ON").
		WithArgs("acct-1", features, asOf).
		WillReturnRows(pgxmock.NewRows([]string{"feature_id", "value"}).
			AddRow("txn_count_30d", []byte(`12`)))

	out, err := NewPostgres(mock).PointInTime(context.Background(), features,
		[]model.PointInTimeRequest{{EntityID: "acct-1", AsOf: asOf}})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, float64(12), out[0].Values["txn_count_30d"])
	assert.Equal(t, []string{"txn_sum_30d"}, out[0].Missing)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPointInTime_PairFailureDoesNotAbortBatch(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	asOf := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	features := []string{"txn_count_30d"}
	mock.ExpectQuery("SELECT DISTINCT ON").
		WithArgs("acct-1", features, asOf).
		WillReturnError(pgx.ErrTxClosed)
	mock.ExpectQuery("SELECT DISTINCT ON").
		WithArgs("acct-2", features, asOf).
		WillReturnRows(pgxmock.NewRows([]string{"feature_id", "value"}).
			AddRow("txn_count_30d", []byte(`3`)))

	out, err := NewPostgres(mock).PointInTime(context.Background(), features,
		[]model.PointInTimeRequest{
			{EntityID: "acct-1", AsOf: asOf},
			{EntityID: "acct-2", AsOf: asOf},
		})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, []string{"txn_count_30d"}, out[0].Missing)
	assert.Equal(t, float64(3), out[1].Values["txn_count_30d"])
	assert.NoError(t, mock.ExpectationsWereMet())
}
