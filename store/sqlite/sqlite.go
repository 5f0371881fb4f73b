/*
Package sqlite provides a SQLite-backed implementation of the ledger Backend.

PURPOSE:
  Durable relational backend for deployments that already run on SQLite.
  The ledger is one logical record, so the schema is deliberately small:
  a single-row state table plus an entries table replaced wholesale inside
  one transaction on every save, keeping the cached accumulator/round
  consistent with the history at all times.

WAL MODE:
  The database is opened with WAL (Write-Ahead Logging):
  - readers don't block on the single writer
  - better crash recovery

MIGRATION:
  Schema is auto-migrated on New(). Use ":memory:" for tests.

SEE ALSO:
  - store/store.go: the Backend contract and conflict-gated Store front
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/frioserv/gas-ledger/ledger"
	"github.com/frioserv/gas-ledger/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS ledger_state (
	id           INTEGER PRIMARY KEY CHECK (id = 1),
	accumulated  REAL    NOT NULL,
	round        INTEGER NOT NULL,
	last_updated TEXT    NOT NULL,
	version      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS ledger_entries (
	position          INTEGER NOT NULL,
	id                TEXT    NOT NULL,
	quantity          REAL    NOT NULL,
	accumulated_after REAL    NOT NULL,
	round             INTEGER NOT NULL,
	operator          TEXT    NOT NULL,
	timestamp         TEXT    NOT NULL,
	is_cylinder_swap  INTEGER NOT NULL DEFAULT 0,
	round_final_value REAL
);

CREATE INDEX IF NOT EXISTS idx_ledger_entries_position ON ledger_entries(position);
`

// Backend stores the ledger state in SQLite.
type Backend struct {
	db *sql.DB
}

// New opens the database at dbPath and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Backend, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A :memory: database exists per connection; cap the pool at one.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &Backend{db: db}, nil
}

func (b *Backend) Load(ctx context.Context) (*ledger.State, error) {
	var (
		s           ledger.State
		lastUpdated string
	)
	err := b.db.QueryRowContext(ctx,
		`SELECT accumulated, round, last_updated, version FROM ledger_state WHERE id = 1`,
	).Scan(&s.Accumulated, &s.Round, &lastUpdated, &s.Version)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	s.LastUpdated, err = time.Parse(time.RFC3339Nano, lastUpdated)
	if err != nil {
		return nil, fmt.Errorf("parse last_updated: %w", err)
	}

	rows, err := b.db.QueryContext(ctx, `
		SELECT id, quantity, accumulated_after, round, operator, timestamp,
		       is_cylinder_swap, round_final_value
		FROM ledger_entries ORDER BY position ASC`)
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}
	defer rows.Close()

	s.History = []ledger.Entry{}
	for rows.Next() {
		var (
			e     ledger.Entry
			ts    string
			swap  int
			final sql.NullFloat64
		)
		if err := rows.Scan(&e.ID, &e.Quantity, &e.AccumulatedAfter, &e.Round,
			&e.Operator, &ts, &swap, &final); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse entry timestamp: %w", err)
		}
		e.CylinderSwap = swap != 0
		if final.Valid {
			v := final.Float64
			e.RoundFinalValue = &v
		}
		s.History = append(s.History, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return &s, nil
}

func (b *Backend) Save(ctx context.Context, s *ledger.State) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM ledger_state`); err != nil {
		return fmt.Errorf("clear state: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM ledger_entries`); err != nil {
		return fmt.Errorf("clear entries: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO ledger_state (id, accumulated, round, last_updated, version)
		 VALUES (1, ?, ?, ?, ?)`,
		s.Accumulated, s.Round, s.LastUpdated.Format(time.RFC3339Nano), s.Version)
	if err != nil {
		return fmt.Errorf("insert state: %w", err)
	}

	insert, err := tx.PrepareContext(ctx, `
		INSERT INTO ledger_entries
			(position, id, quantity, accumulated_after, round, operator,
			 timestamp, is_cylinder_swap, round_final_value)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare entry insert: %w", err)
	}
	defer insert.Close()

	for i, e := range s.History {
		swap := 0
		if e.CylinderSwap {
			swap = 1
		}
		var final any
		if e.RoundFinalValue != nil {
			final = *e.RoundFinalValue
		}
		_, err := insert.ExecContext(ctx, i, e.ID, e.Quantity, e.AccumulatedAfter,
			e.Round, e.Operator, e.Timestamp.Format(time.RFC3339Nano), swap, final)
		if err != nil {
			return fmt.Errorf("insert entry %d: %w", i, err)
		}
	}

	return tx.Commit()
}

func (b *Backend) Close() error { return b.db.Close() }
