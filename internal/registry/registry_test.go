package registry

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

var defColumns = []string{
	"feature_id", "version", "display_name", "feature_group", "entity_type",
	"value_type", "mode", "expression", "cadence", "active", "created_at",
}

func testDef() *model.FeatureDefinition {
	return &model.FeatureDefinition{
		FeatureID:   "txn_count_30d",
		DisplayName: "Transaction count (30d)",
		Group:       "banking",
		EntityType:  "account",
		ValueType:   model.TypeNumeric,
		Mode:        model.ModeBatch,
		Expression:  "COUNT(*) over trailing 30 days",
		Cadence:     model.CadenceDaily,
	}
}

func addDefRow(rows *pgxmock.Rows, featureID string, version int, valueType model.ValueType, mode model.ComputeMode, active bool) *pgxmock.Rows {
	return rows.AddRow(featureID, version, "Test feature", "banking", "account",
		string(valueType), string(mode), "COUNT(*)", "daily", active, time.Now().UTC())
}

func TestRegister_New(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT feature_id, version, display_name").
		WithArgs("txn_count_30d").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec("INSERT INTO feature_store.feature_definitions").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	fid, err := New(mock).Register(context.Background(), testDef())
	assert.NoError(t, err)
	assert.Equal(t, "txn_count_30d", fid)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegister_Idempotent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	// Same id, type, and mode already registered: no insert happens.
	mock.ExpectQuery("SELECT feature_id, version, display_name").
		WithArgs("txn_count_30d").
		WillReturnRows(addDefRow(pgxmock.NewRows(defColumns), "txn_count_30d", 1, model.TypeNumeric, model.ModeBatch, true))

	fid, err := New(mock).Register(context.Background(), testDef())
	assert.NoError(t, err)
	assert.Equal(t, "txn_count_30d", fid)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegister_TypeMismatch(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT feature_id, version, display_name").
		WithArgs("txn_count_30d").
		WillReturnRows(addDefRow(pgxmock.NewRows(defColumns), "txn_count_30d", 1, model.TypeCategorical, model.ModeBatch, true))

	_, err = New(mock).Register(context.Background(), testDef())
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrValidation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegister_InvalidDefinition(t *testing.T) {
	def := testDef()
	def.EntityType = ""

	_, err := New(nil).Register(context.Background(), def)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestNewVersion_RetiresPrior(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT feature_id, version, display_name").
		WithArgs("txn_count_30d").
		WillReturnRows(addDefRow(pgxmock.NewRows(defColumns), "txn_count_30d", 2, model.TypeNumeric, model.ModeBatch, true))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE feature_store.feature_definitions").
		WithArgs("txn_count_30d").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO feature_store.feature_definitions").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectRollback()

	version, err := New(mock).NewVersion(context.Background(), testDef())
	assert.NoError(t, err)
	assert.Equal(t, 3, version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeactivate_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("UPDATE feature_store.feature_definitions").
		WithArgs("ghost").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = New(mock).Deactivate(context.Background(), "ghost")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT feature_id, version, display_name").
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)

	_, err = New(mock).Get(context.Background(), "ghost")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestList_ActiveOnlyFiltersRetired(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rows := pgxmock.NewRows(defColumns)
	addDefRow(rows, "txn_count_30d", 2, model.TypeNumeric, model.ModeBatch, true)
	addDefRow(rows, "txn_legacy", 1, model.TypeNumeric, model.ModeBatch, false)
	mock.ExpectQuery("SELECT DISTINCT ON").WillReturnRows(rows)

	defs, err := New(mock).List(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "txn_count_30d", defs[0].FeatureID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSet_Validation(t *testing.T) {
	reg := New(nil)

	_, err := reg.CreateSet(context.Background(), "", "Churn", []string{"txn_count_30d"})
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = reg.CreateSet(context.Background(), "churn_v1", "Churn", nil)
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestCreateSet_RejectsInactiveMember(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT feature_id, version, display_name").
		WithArgs("txn_legacy").
		WillReturnRows(addDefRow(pgxmock.NewRows(defColumns), "txn_legacy", 1, model.TypeNumeric, model.ModeBatch, false))

	_, err = New(mock).CreateSet(context.Background(), "churn_v1", "Churn", []string{"txn_legacy"})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrValidation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSet_SnapshotsMembers(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT feature_id, version, display_name").
		WithArgs("txn_count_30d").
		WillReturnRows(addDefRow(pgxmock.NewRows(defColumns), "txn_count_30d", 1, model.TypeNumeric, model.ModeBatch, true))
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(version\), 0\)`).
		WithArgs("Churn").
		WillReturnRows(pgxmock.NewRows([]string{"version"}).AddRow(1))
	mock.ExpectExec("INSERT INTO feature_store.feature_sets").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	set, err := New(mock).CreateSet(context.Background(), "churn_v1", "Churn", []string{"txn_count_30d"})
	require.NoError(t, err)
	assert.Equal(t, 1, set.Version)
	assert.Equal(t, []string{"txn_count_30d"}, set.Features)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSet_VersionSurvivesGaps(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	// Versions derive from MAX(version), so the next version is 8 even if
	// fewer than 7 rows remain under the name.
	mock.ExpectQuery("SELECT feature_id, version, display_name").
		WithArgs("txn_count_30d").
		WillReturnRows(addDefRow(pgxmock.NewRows(defColumns), "txn_count_30d", 1, model.TypeNumeric, model.ModeBatch, true))
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(version\), 0\)`).
		WithArgs("Churn").
		WillReturnRows(pgxmock.NewRows([]string{"version"}).AddRow(8))
	mock.ExpectExec("INSERT INTO feature_store.feature_sets").
		WithArgs("churn_v8", "Churn", 8, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	set, err := New(mock).CreateSet(context.Background(), "churn_v8", "Churn", []string{"txn_count_30d"})
	require.NoError(t, err)
	assert.Equal(t, 8, set.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSet_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT set_id, name, version").
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)

	_, err = New(mock).GetSet(context.Background(), "ghost")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSet_UnmarshalsMembers(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT set_id, name, version").
		WithArgs("churn_v1").
		WillReturnRows(pgxmock.NewRows([]string{"set_id", "name", "version", "features", "created_at"}).
			AddRow("churn_v1", "Churn", 1, []byte(`["txn_count_30d","txn_sum_30d"]`), time.Now().UTC()))

	set, err := New(mock).GetSet(context.Background(), "churn_v1")
	require.NoError(t, err)
	assert.Equal(t, []string{"txn_count_30d", "txn_sum_30d"}, set.Features)
	assert.NoError(t, mock.ExpectationsWereMet())
}
