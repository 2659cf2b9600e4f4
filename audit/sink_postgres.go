package audit

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/lib/pq"
)

// DefaultTable is the table PostgresSink writes to.
const DefaultTable = "audit_events"

// PostgresSink inserts events into a PostgreSQL table, one transaction
// per batch. Inserts are idempotent on the event ID, so a retried batch
// never duplicates rows.
type PostgresSink struct {
	db     *sql.DB
	table  string
	insert string
	ownsDB bool
}

// PostgresOption configures a PostgresSink.
type PostgresOption func(*PostgresSink)

// WithTable sets the target table.
func WithTable(name string) PostgresOption {
	return func(s *PostgresSink) {
		if name != "" {
			s.table = name
		}
	}
}

// OpenPostgres opens a database handle using the lib/pq driver.
func OpenPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	return db, nil
}

// NewPostgresSink creates a sink writing through db. The caller keeps
// ownership of db.
func NewPostgresSink(db *sql.DB, opts ...PostgresOption) *PostgresSink {
	s := &PostgresSink{db: db, table: DefaultTable}
	for _, opt := range opts {
		opt(s)
	}
	s.insert = `INSERT INTO ` + pq.QuoteIdentifier(s.table) + ` (
		id, sequence, occurred_at, event_type, source_type, source_path,
		actor, status, details, prev_hash, hash
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (id) DO NOTHING`
	return s
}

// NewPostgresSinkDSN opens dsn and creates a sink that closes the handle
// on Close.
func NewPostgresSinkDSN(dsn string, opts ...PostgresOption) (*PostgresSink, error) {
	db, err := OpenPostgres(dsn)
	if err != nil {
		return nil, err
	}
	s := NewPostgresSink(db, opts...)
	s.ownsDB = true
	return s, nil
}

// CreateTable creates the audit table if it does not exist.
func (s *PostgresSink) CreateTable(ctx context.Context) error {
	ddl := `CREATE TABLE IF NOT EXISTS ` + pq.QuoteIdentifier(s.table) + ` (
		id          UUID PRIMARY KEY,
		sequence    BIGINT NOT NULL,
		occurred_at TIMESTAMPTZ NOT NULL,
		event_type  TEXT NOT NULL,
		source_type TEXT NOT NULL DEFAULT '',
		source_path TEXT NOT NULL DEFAULT '',
		actor       TEXT NOT NULL DEFAULT '',
		status      TEXT NOT NULL,
		details     JSONB,
		prev_hash   TEXT NOT NULL DEFAULT '',
		hash        TEXT NOT NULL
	)`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return errors.Wrapf(err, "create table %s", s.table)
	}
	return nil
}

// Write inserts the batch in a single transaction.
func (s *PostgresSink) Write(ctx context.Context, events []Event) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "begin audit transaction"), ErrSinkUnavailable)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, s.insert)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "prepare audit insert"), ErrSinkUnavailable)
	}
	defer stmt.Close()

	for i := range events {
		e := &events[i]
		var details []byte
		if len(e.Details) > 0 {
			if details, err = json.Marshal(e.Details); err != nil {
				return errors.Wrapf(err, "marshal details of audit event %d", e.Sequence)
			}
		}
		if _, err = stmt.ExecContext(ctx,
			e.ID,
			int64(e.Sequence), //nolint:gosec // sequences stay far below MaxInt64
			e.Timestamp,
			string(e.EventType),
			e.SourceType,
			e.SourcePath,
			e.Actor,
			e.Status,
			details,
			e.PrevHash,
			e.Hash,
		); err != nil {
			return errors.Mark(errors.Wrapf(err, "insert audit event %d", e.Sequence), ErrSinkUnavailable)
		}
	}

	if err = tx.Commit(); err != nil {
		return errors.Mark(errors.Wrap(err, "commit audit transaction"), ErrSinkUnavailable)
	}
	return nil
}

// Close closes the database handle when the sink opened it.
func (s *PostgresSink) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}
