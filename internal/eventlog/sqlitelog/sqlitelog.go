// Package sqlitelog implements the event-log contract on a single-file
// SQLite database. It suits development and single-host deployments where
// the file backend's segment handling is unnecessary and an object store
// is unavailable.
//
// Database configuration:
//   - WAL mode: concurrent reads during writes
//   - synchronous=FULL: every append is durable before Append returns
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - single-connection pool: SQLite allows one writer at a time
package sqlitelog

import (
	"context"
	"database/sql"
	"errors"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/opsledger/opsledger/internal/chain"
	"github.com/opsledger/opsledger/internal/eventlog"
	"github.com/opsledger/opsledger/internal/kernel"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS records (
	seq        INTEGER PRIMARY KEY,
	prev_hash  TEXT NOT NULL,
	event_hash TEXT NOT NULL,
	body       TEXT NOT NULL
);
`

// SQLiteLog is a SQLite-backed event log.
type SQLiteLog struct {
	db *sql.DB
}

// Open creates or opens the database at path and prepares the schema.
// Idempotent: safe to call on an existing log file.
func Open(path string) (*SQLiteLog, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, eventlog.NewBackend(eventlog.ReasonNetwork, err, "open database %s", path)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, eventlog.NewBackend(eventlog.ReasonNetwork, err, "connect database %s", path)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY surprises under concurrent use.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eventlog.NewBackend(eventlog.ReasonNetwork, err, "apply %q", pragma)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, eventlog.NewBackend(eventlog.ReasonNetwork, err, "apply schema")
	}
	return &SQLiteLog{db: db}, nil
}

// Append implements eventlog.Store. The precondition check and the insert
// run in one transaction; the primary key on seq is the CAS backstop if a
// concurrent writer slips between them.
func (s *SQLiteLog) Append(ctx context.Context, event kernel.Event, expectedPrevHash string) (chain.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return chain.Record{}, eventlog.NewBackend(eventlog.ReasonNetwork, err, "begin append tx")
	}
	defer tx.Rollback() // No-op if committed

	tail, err := tailQuery(ctx, tx)
	if err != nil {
		return chain.Record{}, err
	}
	if expectedPrevHash != tail.LastHash {
		return chain.Record{}, eventlog.NewConflict(tail.NextSeq(),
			"expected prev hash %s, log tail is %s", expectedPrevHash, tail.LastHash)
	}

	rec, err := chain.Seal(tail.LastHash, event.WithSeq(tail.NextSeq()))
	if err != nil {
		return chain.Record{}, err
	}
	body, err := rec.Encode()
	if err != nil {
		return chain.Record{}, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO records (seq, prev_hash, event_hash, body)
		VALUES (?, ?, ?, ?)
	`, rec.Event.Seq, rec.PrevHash, rec.EventHash, string(body))
	if err != nil {
		if isConstraintErr(err) {
			return chain.Record{}, eventlog.NewConflict(rec.Event.Seq,
				"record at seq %d already exists", rec.Event.Seq)
		}
		return chain.Record{}, eventlog.NewBackend(eventlog.ReasonNetwork, err,
			"insert record at seq %d", rec.Event.Seq)
	}
	if err := tx.Commit(); err != nil {
		return chain.Record{}, eventlog.NewBackend(eventlog.ReasonNetwork, err, "commit append")
	}
	return rec, nil
}

// Read implements eventlog.Store.
func (s *SQLiteLog) Read(ctx context.Context, fromSeq, toSeq int64) ([]chain.Record, error) {
	query := `SELECT body FROM records WHERE seq >= ? ORDER BY seq ASC`
	args := []any{fromSeq}
	if toSeq != eventlog.ReadToEnd {
		query = `SELECT body FROM records WHERE seq >= ? AND seq <= ? ORDER BY seq ASC`
		args = append(args, toSeq)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eventlog.NewBackend(eventlog.ReasonNetwork, err, "query records")
	}
	defer rows.Close()

	v := eventlog.NewValidator(fromSeq)
	var out []chain.Record
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, eventlog.NewBackend(eventlog.ReasonNetwork, err, "scan record")
		}
		rec, err := chain.Decode([]byte(body))
		if err != nil {
			return nil, eventlog.NewIntegrity(-1, "%v", err)
		}
		if err := v.Feed(rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, eventlog.NewBackend(eventlog.ReasonNetwork, err, "iterate records")
	}
	return out, nil
}

// Tail implements eventlog.Store.
func (s *SQLiteLog) Tail(ctx context.Context) (eventlog.Tail, error) {
	return tailQuery(ctx, s.db)
}

// Close implements eventlog.Store.
func (s *SQLiteLog) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func tailQuery(ctx context.Context, q querier) (eventlog.Tail, error) {
	var seq int64
	var hash string
	err := q.QueryRowContext(ctx,
		`SELECT seq, event_hash FROM records ORDER BY seq DESC LIMIT 1`).Scan(&seq, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return eventlog.EmptyTail(), nil
	}
	if err != nil {
		return eventlog.Tail{}, eventlog.NewBackend(eventlog.ReasonNetwork, err, "query tail")
	}
	return eventlog.Tail{LastSeq: seq, LastHash: hash}, nil
}

func isConstraintErr(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrConstraint
	}
	return false
}
