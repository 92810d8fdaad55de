package db

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"

	"crimewatch/internal/core"
)

func newMockDB(t *testing.T) (*PostgresDB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	p, err := Open(postgres.New(postgres.Config{Conn: sqlDB}))
	require.NoError(t, err)
	return p, mock
}

func TestPostgresAddVerifier(t *testing.T) {
	p, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "report_verifiers"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT count\(\*\) FROM "report_verifiers"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectCommit()

	count, added, err := p.AddVerifier(context.Background(), "report-1", "alice")
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, 3, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAddVerifierDuplicate(t *testing.T) {
	p, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "report_verifiers" .* ON CONFLICT DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT count\(\*\) FROM "report_verifiers"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectCommit()

	count, added, err := p.AddVerifier(context.Background(), "report-1", "alice")
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, 1, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAddVerifierRollsBack(t *testing.T) {
	p, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "report_verifiers"`).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, _, err := p.AddVerifier(context.Background(), "report-1", "alice")
	require.ErrorContains(t, err, "connection reset")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetMissingReport(t *testing.T) {
	p, mock := newMockDB(t)

	mock.ExpectQuery(`SELECT \* FROM "reports" WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := p.Get(context.Background(), "missing")
	require.ErrorIs(t, err, core.ErrReportNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateStatusMissing(t *testing.T) {
	p, mock := newMockDB(t)

	mock.ExpectExec(`UPDATE "reports" SET "status"=\$1 WHERE id = \$2`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := p.UpdateStatus(context.Background(), "missing", core.Closed)
	require.ErrorIs(t, err, core.ErrReportNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCountVerifiers(t *testing.T) {
	p, mock := newMockDB(t)

	mock.ExpectQuery(`SELECT count\(\*\) FROM "report_verifiers" WHERE report_id = \$1`).
		WithArgs("report-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))

	n, err := p.CountVerifiers(context.Background(), "report-1")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
