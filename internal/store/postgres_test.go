package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightpath-advice/advicegen/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_GetCase_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, reference, client_a_name.+ FROM cases WHERE id = \$1`).
		WithArgs("nonexistent-case").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetCase(context.Background(), "nonexistent-case")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetProviderFacts_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT data FROM provider_cache`).
		WithArgs("fisher-funds", "growth").
		WillReturnError(pgx.ErrNoRows)

	data, err := s.GetProviderFacts(context.Background(), "fisher-funds", "growth")
	require.NoError(t, err)
	assert.Nil(t, data)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetProviderFacts_Hit(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT data FROM provider_cache`).
		WithArgs("fisher-funds", "growth").
		WillReturnRows(pgxmock.NewRows([]string{"data"}).AddRow(`{"fees":{"annual_pct":1.05}}`))

	data, err := s.GetProviderFacts(context.Background(), "fisher-funds", "growth")
	require.NoError(t, err)
	assert.JSONEq(t, `{"fees":{"annual_pct":1.05}}`, string(data))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetProviderFacts(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO provider_cache`).
		WithArgs(pgxmock.AnyArg(), "fisher-funds", "growth", `{"fees":null}`, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.SetProviderFacts(context.Background(), "fisher-funds", "growth", []byte(`{"fees":null}`), 12*time.Hour)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteExpiredProviderFacts(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM provider_cache WHERE expires_at <= now\(\)`).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	n, err := s.DeleteExpiredProviderFacts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateRunStatus_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET status = \$1`).
		WithArgs(string(model.RunStatusExtracting), pgxmock.AnyArg(), "missing-run").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateRunStatus(context.Background(), "missing-run", model.RunStatusExtracting)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs(pgxmock.AnyArg(), "case-1", string(model.DocStatementOfAdvice), string(model.RunStatusIdle), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := s.CreateRun(context.Background(), "case-1", model.DocStatementOfAdvice)
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusIdle, run.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetActiveTemplate_Missing(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, doc_type, variant, version.+ FROM templates`).
		WithArgs(string(model.DocStatementOfAdvice), "default").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetActiveTemplate(context.Background(), model.DocStatementOfAdvice, "default")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no active template")
	assert.NoError(t, mock.ExpectationsWereMet())
}
