package historian

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	unserrors "github.com/thepwizard/unifiednamespace/errors"
)

func newTestHistorian(t *testing.T) (*Historian, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := Config{
		Hostname:             "localhost",
		Database:             "uns_historian",
		Table:                "unifiednamespace",
		MaxRetry:             3,
		SleepBetweenAttempts: time.Millisecond,
	}
	require.NoError(t, cfg.validate())

	h, err := newWithDB(context.Background(), db, cfg, nil, false)
	require.NoError(t, err)
	return h, mock
}

func TestPersistInsertsRow(t *testing.T) {
	h, mock := newTestHistorian(t)
	ts := time.UnixMilli(1671554024644)

	mock.ExpectExec("INSERT INTO unifiednamespace").
		WithArgs(ts, "a/b/c", "client1", []byte(`{"temp":21.5}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := h.Persist(context.Background(), "client1", "a/b/c", ts, map[string]any{"temp": 21.5})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPersistRetriesTransientFailure(t *testing.T) {
	h, mock := newTestHistorian(t)
	ts := time.Now()

	mock.ExpectExec("INSERT INTO unifiednamespace").
		WillReturnError(errors.New("connection refused"))
	mock.ExpectExec("INSERT INTO unifiednamespace").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := h.Persist(context.Background(), "client1", "a/b", ts, map[string]any{})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPersistGivesUpAfterMaxRetries(t *testing.T) {
	h, mock := newTestHistorian(t)

	for i := 0; i < 3; i++ {
		mock.ExpectExec("INSERT INTO unifiednamespace").
			WillReturnError(errors.New("connection refused"))
	}

	err := h.Persist(context.Background(), "client1", "a/b", time.Now(), map[string]any{})
	require.Error(t, err)
	assert.ErrorIs(t, err, unserrors.ErrMaxRetriesExceeded)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPersistDoesNotRetryNonTransientFailure(t *testing.T) {
	h, mock := newTestHistorian(t)

	mock.ExpectExec("INSERT INTO unifiednamespace").
		WillReturnError(errors.New("syntax error at or near"))

	err := h.Persist(context.Background(), "client1", "a/b", time.Now(), map[string]any{})
	require.Error(t, err)
	assert.True(t, unserrors.IsInvalid(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewHistorianConnectFailureKeepsCause(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	cfg := Config{
		Hostname:             "localhost",
		Database:             "uns_historian",
		Table:                "unifiednamespace",
		MaxRetry:             2,
		SleepBetweenAttempts: time.Millisecond,
	}
	_, err = newWithDB(context.Background(), db, cfg, nil, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, unserrors.ErrMaxRetriesExceeded)
	assert.Contains(t, err.Error(), "connection refused")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfigValidation(t *testing.T) {
	cfg := Config{}
	err := cfg.validate()
	require.Error(t, err)
	assert.True(t, unserrors.IsFatal(err))

	cfg = Config{Hostname: "h", Database: "d", Table: "bad; DROP TABLE x"}
	err = cfg.validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, unserrors.ErrInvalidConfig)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{Hostname: "h", Database: "d", Table: "unifiednamespace"}
	require.NoError(t, cfg.validate())
	assert.Equal(t, 5432, cfg.Port)
	assert.Equal(t, "prefer", cfg.SSLMode)
	assert.Equal(t, 5, cfg.MaxRetry)
}
