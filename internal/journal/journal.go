// Package journal keeps an append-only log of state transitions in SQLite.
// The journal is an audit trail; it is never used to restore state at boot.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/sweeney/charge-controller/internal/logic"
)

const sqliteDriverName = "sqlite"

// timeLayout sorts lexically in chronological order.
const timeLayout = "2006-01-02 15:04:05.000000"

const schemaTransitions = `
CREATE TABLE IF NOT EXISTS transitions (
    id TEXT PRIMARY KEY,
    occurred_at TEXT NOT NULL,
    from_state TEXT NOT NULL,
    to_state TEXT NOT NULL,
    reason TEXT NOT NULL,
    contactor BOOLEAN NOT NULL
);
`

const schemaTransitionsIndex = `
CREATE INDEX IF NOT EXISTS transitions_occurred_at ON transitions (occurred_at);
`

const insertTransition = `
INSERT INTO transitions (id, occurred_at, from_state, to_state, reason, contactor)
VALUES (?, ?, ?, ?, ?, ?)
`

const selectTransitions = `SELECT id, occurred_at, from_state, to_state, reason, contactor FROM transitions`

// DefaultLimit caps List when the filter does not set one.
const DefaultLimit = 500

// Entry is one journaled transition.
type Entry struct {
	ID         string       `json:"id"`
	OccurredAt time.Time    `json:"occurred_at"`
	From       logic.State  `json:"from"`
	To         logic.State  `json:"to"`
	Reason     logic.Reason `json:"reason"`
	Contactor  bool         `json:"contactor"`
}

// Filter narrows List. Zero values mean "no bound".
type Filter struct {
	From  time.Time
	To    time.Time
	State logic.State // matches the destination state
	Limit int
}

// Journal stores transitions.
type Journal struct {
	db *sql.DB
}

// Open opens or creates the SQLite file at path and ensures the schema exists.
func Open(path string) (*Journal, error) {
	db, err := sql.Open(sqliteDriverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %q: %w", path, err)
	}

	// Single writer: the control loop.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set %s: %w", strings.TrimSuffix(pragma, ";"), err)
		}
	}

	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return New(db), nil
}

// New wraps an already opened database.
func New(db *sql.DB) *Journal {
	return &Journal{db: db}
}

func ensureSchema(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin schema transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, stmt := range []string{schemaTransitions, schemaTransitionsIndex} {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema transaction: %w", err)
	}
	return nil
}

// Append stores a transition and returns the stored entry.
func (j *Journal) Append(ctx context.Context, tr logic.Transition) (Entry, error) {
	e := Entry{
		ID:         uuid.NewString(),
		OccurredAt: tr.Timestamp.UTC(),
		From:       tr.From,
		To:         tr.To,
		Reason:     tr.Reason,
		Contactor:  tr.Contactor,
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}

	_, err := j.db.ExecContext(ctx, insertTransition,
		e.ID,
		e.OccurredAt.Format(timeLayout),
		string(e.From),
		string(e.To),
		string(e.Reason),
		e.Contactor,
	)
	if err != nil {
		return Entry{}, fmt.Errorf("insert transition: %w", err)
	}
	return e, nil
}

// List returns transitions matching f, oldest first.
func (j *Journal) List(ctx context.Context, f Filter) ([]Entry, error) {
	var (
		conds []string
		args  []any
	)
	if !f.From.IsZero() {
		conds = append(conds, "occurred_at >= ?")
		args = append(args, f.From.UTC().Format(timeLayout))
	}
	if !f.To.IsZero() {
		conds = append(conds, "occurred_at <= ?")
		args = append(args, f.To.UTC().Format(timeLayout))
	}
	if f.State != "" {
		conds = append(conds, "to_state = ?")
		args = append(args, string(f.State))
	}

	q := selectTransitions
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY occurred_at ASC LIMIT ?"
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	out := make([]Entry, 0, 16)
	for rows.Next() {
		var (
			e        Entry
			at       string
			from, to string
			reason   string
		)
		if err := rows.Scan(&e.ID, &at, &from, &to, &reason, &e.Contactor); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		e.OccurredAt, err = time.ParseInLocation(timeLayout, at, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("parse occurred_at %q: %w", at, err)
		}
		e.From = logic.State(from)
		e.To = logic.State(to)
		e.Reason = logic.Reason(reason)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transitions: %w", err)
	}
	return out, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}
