package database

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithTx(t *testing.T) {
	t.Run("commits on success", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE tenants").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err = WithTx(context.Background(), db, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(context.Background(), "UPDATE tenants SET notes = ''")
			return err
		})
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back and passes error through", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		sentinel := errors.New("guard failed")
		mock.ExpectBegin()
		mock.ExpectRollback()

		err = WithTx(context.Background(), db, func(tx *sql.Tx) error {
			return sentinel
		})
		assert.ErrorIs(t, err, sentinel)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("begin failure", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

		err = WithTx(context.Background(), db, func(tx *sql.Tx) error { return nil })
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to begin transaction")
	})
}

func TestRunMigrations(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	migrations := GetMigrations()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnResult(sqlmock.NewResult(0, 0))

	// Everything except the last migration is already applied.
	rows := sqlmock.NewRows([]string{"version"})
	for _, m := range migrations[:len(migrations)-1] {
		rows.AddRow(m.Version)
	}
	mock.ExpectQuery("SELECT version FROM schema_migrations").WillReturnRows(rows)

	last := migrations[len(migrations)-1]
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS email_templates").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO schema_migrations").
		WithArgs(last.Version, last.Description).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = RunMigrations(context.Background(), db, logger)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrationsAreOrdered(t *testing.T) {
	migrations := GetMigrations()
	for i := 1; i < len(migrations); i++ {
		assert.Greater(t, migrations[i].Version, migrations[i-1].Version)
	}
}

func TestNullHelpers(t *testing.T) {
	assert.Nil(t, NullInt64(nil))
	id := int64(5)
	assert.Equal(t, int64(5), NullInt64(&id))

	assert.Nil(t, NullTime(nil))
	now := time.Now()
	assert.Equal(t, now, NullTime(&now))

	assert.Nil(t, NullString(""))
	assert.Equal(t, "txn_1", NullString("txn_1"))
}

func TestOpenRequiresURL(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}
