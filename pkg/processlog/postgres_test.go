package processlog

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pgNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newPostgres(t *testing.T) (*PostgresLogger, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	l, err := NewPostgresLogger(db, "collector_log", clockwork.NewFakeClockAt(pgNow))
	require.NoError(t, err)
	return l, mock
}

func q(s string) string { return regexp.QuoteMeta(s) }

func TestNewPostgresLoggerValidatesTable(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = NewPostgresLogger(db, "log; DROP TABLE x", nil)
	assert.Error(t, err)
	_, err = NewPostgresLogger(nil, "collector_log", nil)
	assert.Error(t, err)
}

func TestPostgresEnsureSchema(t *testing.T) {
	l, mock := newPostgres(t)
	mock.ExpectExec(q("CREATE TABLE IF NOT EXISTS collector_log (")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(q("CREATE TABLE IF NOT EXISTS collector_log_messages (")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(q("CREATE INDEX IF NOT EXISTS collector_log_pid_idx ON collector_log (pid)")).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, l.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStartAndLogValue(t *testing.T) {
	l, mock := newPostgres(t)
	ctx := context.Background()

	mock.ExpectQuery(q("INSERT INTO collector_log (pid, status, start_timestamp, last_process_timestamp, data)")).
		WithArgs("R1", int(StatusStart), pgNow).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	id, err := l.Start(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, LogID(7), id)

	mock.ExpectBegin()
	mock.ExpectQuery(q("SELECT data FROM collector_log WHERE id = $1 FOR UPDATE")).WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow(`{"input":["a.tif"]}`))
	mock.ExpectExec(q("UPDATE collector_log SET data = $1")).
		WithArgs(`{"input":["a.tif","b.tif"]}`, pgNow, id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	require.NoError(t, l.LogValue(ctx, TagInput, "b.tif", id))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLogValueUnknownEntry(t *testing.T) {
	l, mock := newPostgres(t)
	mock.ExpectBegin()
	mock.ExpectQuery(q("SELECT data FROM collector_log")).WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := l.LogValue(context.Background(), TagRun, "x", 99)
	assert.True(t, errors.Is(err, ErrUnknownEntry))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresErrorMarksFailed(t *testing.T) {
	l, mock := newPostgres(t)
	mock.ExpectBegin()
	mock.ExpectExec(q("UPDATE collector_log SET status = $1, last_process_timestamp = $2 WHERE id = $3")).
		WithArgs(int(StatusError), pgNow, LogID(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("INSERT INTO collector_log_messages (log_id, type, description, timestamp)")).
		WithArgs(LogID(3), int(MessageError), "store failed", pgNow).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, l.Error(context.Background(), "store failed", 3))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresInfoUnknownEntryRollsBack(t *testing.T) {
	l, mock := newPostgres(t)
	mock.ExpectBegin()
	mock.ExpectExec(q("UPDATE collector_log SET last_process_timestamp = $1 WHERE id = $2")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := l.Info(context.Background(), "hello", 5)
	assert.ErrorIs(t, err, ErrUnknownEntry)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDone(t *testing.T) {
	l, mock := newPostgres(t)
	data := pgNow.Add(-time.Hour)
	mock.ExpectExec(q("UPDATE collector_log SET status = $1, data_timestamp = $2, last_process_timestamp = $3 WHERE id = $4")).
		WithArgs(int(StatusDone), data, pgNow, LogID(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, l.Done(context.Background(), data, 4))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLastDataTimestamp(t *testing.T) {
	l, mock := newPostgres(t)
	ctx := context.Background()
	data := pgNow.Add(-time.Hour)

	mock.ExpectQuery(q("SELECT MAX(data_timestamp) FROM collector_log WHERE pid = $1 AND status = $2")).
		WithArgs("R1", int(StatusDone)).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(data))
	got, ok, err := l.LastDataTimestamp(ctx, "R1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, data, got)

	mock.ExpectQuery(q("SELECT MAX(data_timestamp)")).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))
	_, ok, err = l.LastDataTimestamp(ctx, "R2")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}
