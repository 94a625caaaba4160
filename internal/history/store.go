// Package history persists processed runs in PostgreSQL.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/csvsplit/internal/config"
	"github.com/JonMunkholm/csvsplit/internal/core"
)

// DBTX is the subset of pgx used by the store.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS csvsplit_runs (
    id           uuid PRIMARY KEY,
    session_id   uuid        NOT NULL,
    file_name    text        NOT NULL,
    member       text        NOT NULL DEFAULT '',
    base_name    text        NOT NULL,
    columns      text[]      NOT NULL,
    row_count    bigint      NOT NULL,
    part_count   integer     NOT NULL,
    output_bytes bigint      NOT NULL,
    outcome      text        NOT NULL,
    error        text        NOT NULL DEFAULT '',
    client_ip    text        NOT NULL DEFAULT '',
    user_agent   text        NOT NULL DEFAULT '',
    started_at   timestamptz NOT NULL,
    duration_ms  bigint      NOT NULL
);
CREATE INDEX IF NOT EXISTS csvsplit_runs_started_at_idx ON csvsplit_runs (started_at DESC);
`

const insertRunSQL = `
INSERT INTO csvsplit_runs (
    id, session_id, file_name, member, base_name, columns,
    row_count, part_count, output_bytes, outcome, error,
    client_ip, user_agent, started_at, duration_ms
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

const recentRunsSQL = `
SELECT id, session_id, file_name, member, base_name, columns,
       row_count, part_count, output_bytes, outcome, error,
       client_ip, user_agent, started_at, duration_ms
FROM csvsplit_runs
ORDER BY started_at DESC
LIMIT $1`

const purgeRunsSQL = `DELETE FROM csvsplit_runs WHERE started_at < $1`

// Store implements core.HistoryRecorder.
type Store struct {
	db  DBTX
	now func() time.Time
}

var _ core.HistoryRecorder = (*Store)(nil)

// New returns a store over db.
func New(db DBTX) *Store {
	return &Store{db: db, now: time.Now}
}

// Connect opens and pings a pool sized by cfg.
func Connect(ctx context.Context, cfg config.HistoryConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the runs table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create runs table: %w", err)
	}
	return nil
}

// Record inserts one run.
func (s *Store) Record(ctx context.Context, run core.Run) error {
	id, err := toUUID(run.ID)
	if err != nil {
		return fmt.Errorf("run id: %w", err)
	}
	sessionID, err := toUUID(run.SessionID)
	if err != nil {
		return fmt.Errorf("session id: %w", err)
	}

	columns := run.Columns
	if columns == nil {
		columns = []string{}
	}

	_, err = s.db.Exec(ctx, insertRunSQL,
		id,
		sessionID,
		run.FileName,
		run.Member,
		run.BaseName,
		columns,
		int64(run.Rows),
		int32(run.Parts),
		run.OutputBytes,
		run.Outcome,
		run.Error,
		run.ClientIP,
		run.UserAgent,
		run.StartedAt,
		run.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]core.Run, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.Query(ctx, recentRunsSQL, int32(limit))
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []core.Run
	for rows.Next() {
		var (
			run        core.Run
			id, sessID pgtype.UUID
			rowCount   int64
			partCount  int32
			durationMs int64
		)
		if err := rows.Scan(
			&id,
			&sessID,
			&run.FileName,
			&run.Member,
			&run.BaseName,
			&run.Columns,
			&rowCount,
			&partCount,
			&run.OutputBytes,
			&run.Outcome,
			&run.Error,
			&run.ClientIP,
			&run.UserAgent,
			&run.StartedAt,
			&durationMs,
		); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.ID = uuid.UUID(id.Bytes).String()
		run.SessionID = uuid.UUID(sessID.Bytes).String()
		run.Rows = int(rowCount)
		run.Parts = int(partCount)
		run.Duration = time.Duration(durationMs) * time.Millisecond
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// Purge deletes runs that started more than olderThan ago.
func (s *Store) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := s.db.Exec(ctx, purgeRunsSQL, s.now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("purge runs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func toUUID(s string) (pgtype.UUID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return pgtype.UUID{}, err
	}
	return pgtype.UUID{Bytes: u, Valid: true}, nil
}
