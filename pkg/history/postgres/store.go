// Package postgres provides a PostgreSQL-backed [history.Store].
//
// The conversation log is small and rewritten in full on every mutation, so
// [Store.Save] replaces the table contents inside a single transaction. Row
// order is preserved through a position column.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//	log := history.NewLog(store)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/iopet/pkg/history"
)

var _ history.Store = (*Store)(nil)

const ddlTurns = `
CREATE TABLE IF NOT EXISTS chat_turns (
    position  INTEGER  PRIMARY KEY,
    time      TEXT     NOT NULL,
    user_text TEXT     NOT NULL,
    ai_text   TEXT     NOT NULL
);`

// Store is a [history.Store] backed by a single table. All operations are safe
// for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn and creates the turns table if it
// does not exist.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("history postgres: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("history postgres: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history postgres: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history postgres: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Migrate creates the schema used by [Store]. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlTurns); err != nil {
		return fmt.Errorf("create chat_turns: %w", err)
	}
	return nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("history postgres: ping: %w", err)
	}
	return nil
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}

// Load implements [history.Store].
func (s *Store) Load(ctx context.Context) ([]history.Turn, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT time, user_text, ai_text FROM chat_turns ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("history postgres: load: %w", err)
	}

	turns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (history.Turn, error) {
		var t history.Turn
		err := row.Scan(&t.Time, &t.User, &t.AI)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("history postgres: scan: %w", err)
	}
	if turns == nil {
		turns = []history.Turn{}
	}
	return turns, nil
}

// Save implements [history.Store]. The previous contents are deleted and the
// new sequence inserted in one transaction.
func (s *Store) Save(ctx context.Context, turns []history.Turn) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("history postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(ctx, `DELETE FROM chat_turns`); err != nil {
		return fmt.Errorf("history postgres: delete: %w", err)
	}

	if len(turns) > 0 {
		rows := make([][]any, len(turns))
		for i, t := range turns {
			rows[i] = []any{i, t.Time, t.User, t.AI}
		}
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"chat_turns"},
			[]string{"position", "time", "user_text", "ai_text"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("history postgres: insert: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("history postgres: commit: %w", err)
	}
	return nil
}
