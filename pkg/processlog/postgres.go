package processlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/jonboulle/clockwork"

	"github.com/terrama-collector/pkg/storage"
)

// PostgresLogger stores entries in <table> and their messages in <table>_messages.
// The data column holds the tagged values as a JSON object of string arrays.
type PostgresLogger struct {
	db       *sql.DB
	table    string
	messages string
	clock    clockwork.Clock
}

// NewPostgresLogger 创建数据库日志；table 必须是合法标识符
func NewPostgresLogger(db *sql.DB, table string, clock clockwork.Clock) (*PostgresLogger, error) {
	if db == nil {
		return nil, errors.New("process log: nil database handle")
	}
	if !storage.ValidIdentifier(table) {
		return nil, fmt.Errorf("process log: invalid table name %q", table)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &PostgresLogger{db: db, table: table, messages: table + "_messages", clock: clock}, nil
}

// EnsureSchema creates the log tables when missing.
func (l *PostgresLogger) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id SERIAL PRIMARY KEY,
	pid TEXT NOT NULL,
	status INTEGER NOT NULL,
	start_timestamp TIMESTAMPTZ,
	data_timestamp TIMESTAMPTZ,
	last_process_timestamp TIMESTAMPTZ,
	data TEXT
)`, l.table),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id SERIAL PRIMARY KEY,
	log_id INTEGER NOT NULL REFERENCES %s (id) ON DELETE CASCADE,
	type INTEGER NOT NULL,
	description TEXT,
	timestamp TIMESTAMPTZ
)`, l.messages, l.table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_pid_idx ON %s (pid)", strings.ReplaceAll(l.table, ".", "_"), l.table),
	}
	for _, s := range stmts {
		if _, err := l.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("process log schema: %w", err)
		}
	}
	return nil
}

func (l *PostgresLogger) Start(ctx context.Context, resourceID string) (LogID, error) {
	now := l.clock.Now()
	var id LogID
	err := l.db.QueryRowContext(ctx,
		fmt.Sprintf("INSERT INTO %s (pid, status, start_timestamp, last_process_timestamp, data) VALUES ($1, $2, $3, $3, '{}') RETURNING id", l.table),
		resourceID, int(StatusStart), now).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("process log start: %w", err)
	}
	return id, nil
}

// LogValue appends value under tag in a read-modify-write transaction.
func (l *PostgresLogger) LogValue(ctx context.Context, tag, value string, id LogID) error {
	return l.inTx(ctx, func(tx *sql.Tx) error {
		var raw sql.NullString
		err := tx.QueryRowContext(ctx, fmt.Sprintf("SELECT data FROM %s WHERE id = $1 FOR UPDATE", l.table), id).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %d", ErrUnknownEntry, id)
		}
		if err != nil {
			return err
		}
		values := map[string][]string{}
		if raw.Valid && raw.String != "" {
			if err := json.Unmarshal([]byte(raw.String), &values); err != nil {
				return fmt.Errorf("decode data of entry %d: %w", id, err)
			}
		}
		values[tag] = append(values[tag], value)
		data, err := json.Marshal(values)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			fmt.Sprintf("UPDATE %s SET data = $1, last_process_timestamp = $2 WHERE id = $3", l.table),
			string(data), l.clock.Now(), id)
		return err
	})
}

func (l *PostgresLogger) Error(ctx context.Context, message string, id LogID) error {
	return l.message(ctx, MessageError, message, id)
}

func (l *PostgresLogger) Info(ctx context.Context, message string, id LogID) error {
	return l.message(ctx, MessageInfo, message, id)
}

func (l *PostgresLogger) message(ctx context.Context, typ MessageType, message string, id LogID) error {
	return l.inTx(ctx, func(tx *sql.Tx) error {
		now := l.clock.Now()
		var (
			res sql.Result
			err error
		)
		if typ == MessageError {
			res, err = tx.ExecContext(ctx,
				fmt.Sprintf("UPDATE %s SET status = $1, last_process_timestamp = $2 WHERE id = $3", l.table),
				int(StatusError), now, id)
		} else {
			res, err = tx.ExecContext(ctx,
				fmt.Sprintf("UPDATE %s SET last_process_timestamp = $1 WHERE id = $2", l.table), now, id)
		}
		if err := affected(res, err, id); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			fmt.Sprintf("INSERT INTO %s (log_id, type, description, timestamp) VALUES ($1, $2, $3, $4)", l.messages),
			id, int(typ), message, now)
		return err
	})
}

func (l *PostgresLogger) Done(ctx context.Context, dataTimestamp time.Time, id LogID) error {
	var ts any
	if !dataTimestamp.IsZero() {
		ts = dataTimestamp
	}
	res, err := l.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET status = $1, data_timestamp = $2, last_process_timestamp = $3 WHERE id = $4", l.table),
		int(StatusDone), ts, l.clock.Now(), id)
	if err := affected(res, err, id); err != nil {
		return fmt.Errorf("process log done: %w", err)
	}
	return nil
}

// LastDataTimestamp implements History.
func (l *PostgresLogger) LastDataTimestamp(ctx context.Context, resourceID string) (time.Time, bool, error) {
	var last sql.NullTime
	err := l.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT MAX(data_timestamp) FROM %s WHERE pid = $1 AND status = $2", l.table),
		resourceID, int(StatusDone)).Scan(&last)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("process log history: %w", err)
	}
	if !last.Valid {
		return time.Time{}, false, nil
	}
	return last.Time, true, nil
}

func (l *PostgresLogger) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("process log: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("process log: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("process log: commit: %w", err)
	}
	return nil
}

func affected(res sql.Result, err error, id LogID) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrUnknownEntry, id)
	}
	return nil
}

var (
	_ Logger  = (*PostgresLogger)(nil)
	_ History = (*PostgresLogger)(nil)
)
