package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactor_SetsLockTimeout(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("set_config\\('lock_timeout'").
		WithArgs("1500ms").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectCommit()

	tx, err := NewTransactor(mock, 1500*time.Millisecond).Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.Commit(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactor_ZeroTimeoutSkipsSetting(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()

	_, err = NewTransactor(mock, 0).Begin(context.Background())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactor_SettingFailureRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("set_config").WithArgs("5000ms").WillReturnError(errors.New("conn reset"))
	mock.ExpectRollback()

	tx, err := NewTransactor(mock, 5*time.Second).Begin(context.Background())
	require.Error(t, err)
	assert.Nil(t, tx)
	assert.NoError(t, mock.ExpectationsWereMet())
}
