package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/Nacnud88/markschecker3/internal/search"
)

func newMockStore(t *testing.T) (*SessionStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewSessionStoreWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func TestCreateSessionInsertsRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	state := search.SessionState{
		ID:         "sess-1",
		Status:     search.StatusProcessing,
		TotalTerms: 3,
		RegionID:   "R1",
		Region:     search.RegionInfo{RegionID: "R1", Nickname: "Home"},
		CreatedAt:  now,
	}

	mock.ExpectExec("INSERT INTO sessions").
		WithArgs(
			"sess-1",
			"processing",
			3,
			0,
			0,
			"R1",
			[]byte(`{"regionId":"R1","nickname":"Home"}`),
			now,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateSession(context.Background(), state))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSessionScansRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	rows := pgxmock.NewRows([]string{
		"id", "status", "total_terms", "processed_terms", "total_products",
		"region_id", "region_info", "created_at",
	}).AddRow("sess-1", "completed", 3, 3, 7, "R1",
		[]byte(`{"regionId":"R1","nickname":"Home"}`), now)

	mock.ExpectQuery("SELECT id, status").WithArgs("sess-1").WillReturnRows(rows)

	state, err := store.GetSession(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Equal(t, search.StatusCompleted, state.Status)
	require.Equal(t, 3, state.ProcessedTerms)
	require.Equal(t, 7, state.TotalProducts)
	require.Equal(t, "Home", state.Region.Nickname)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSessionNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT id, status").WithArgs("missing").WillReturnError(pgx.ErrNoRows)

	_, err := store.GetSession(context.Background(), "missing")
	require.ErrorIs(t, err, search.ErrSessionNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateProgressBuildsPartialSet(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	processed := 2
	status := search.StatusCompleted
	mock.ExpectExec("UPDATE sessions SET").
		WithArgs(2, "completed", "sess-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := store.UpdateProgress(context.Background(), "sess-1", search.ProgressUpdate{
		ProcessedTerms: &processed,
		Status:         &status,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateProgressNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	processed := 2
	mock.ExpectExec("UPDATE sessions SET").
		WithArgs(2, "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.UpdateProgress(context.Background(), "missing", search.ProgressUpdate{
		ProcessedTerms: &processed,
	})
	require.ErrorIs(t, err, search.ErrSessionNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateProgressNoFieldsIsNoop(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	require.NoError(t, store.UpdateProgress(context.Background(), "sess-1", search.ProgressUpdate{}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendProductsInsertsEachRecord(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	id := "P1"

	mock.ExpectExec("INSERT INTO products").
		WithArgs("sess-1", "A", true, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO products").
		WithArgs("sess-1", "B", false, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.AppendProducts(context.Background(), "sess-1", []search.ProductRecord{
		{Found: true, SearchTerm: "A", ProductID: &id},
		{Found: false, SearchTerm: "B"},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListProductsSkipsCorruptRows(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	rows := pgxmock.NewRows([]string{"data"}).
		AddRow([]byte(`{"found":true,"searchTerm":"A"}`)).
		AddRow([]byte(`not json`)).
		AddRow([]byte(`{"found":false,"searchTerm":"B"}`))

	mock.ExpectQuery("SELECT data FROM products").WithArgs("sess-1").WillReturnRows(rows)

	records, err := store.ListProducts(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "A", records[0].SearchTerm)
	require.Equal(t, "B", records[1].SearchTerm)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteSessionRemovesProductsFirst(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM products").
		WithArgs("sess-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 4))
	mock.ExpectExec("DELETE FROM sessions").
		WithArgs("sess-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, store.DeleteSession(context.Background(), "sess-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteSessionNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM products").
		WithArgs("missing").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("DELETE FROM sessions").
		WithArgs("missing").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err := store.DeleteSession(context.Background(), "missing")
	require.ErrorIs(t, err, search.ErrSessionNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchemaCreatesTables(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS sessions").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS products").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
