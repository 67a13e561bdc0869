package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/kisaragi-dev/yomivox/internal/dict"
)

// Entries implements [dict.Store]. It returns the guild's entries merged
// with the global scope.
func (s *Store) Entries(ctx context.Context, guildID string) ([]dict.Entry, error) {
	const q = `
		SELECT scope, surface, reading, priority, created_at
		FROM   dict_entries
		WHERE  scope = '' OR scope = $1
		ORDER  BY scope, surface`

	rows, err := s.pool.Query(ctx, q, guildID)
	if err != nil {
		return nil, fmt.Errorf("dict store: entries: %w", err)
	}
	return collectEntries(rows)
}

// List implements [dict.Store]. It returns the entries of exactly one scope.
func (s *Store) List(ctx context.Context, scope string) ([]dict.Entry, error) {
	const q = `
		SELECT scope, surface, reading, priority, created_at
		FROM   dict_entries
		WHERE  scope = $1
		ORDER  BY surface`

	rows, err := s.pool.Query(ctx, q, scope)
	if err != nil {
		return nil, fmt.Errorf("dict store: list: %w", err)
	}
	return collectEntries(rows)
}

// Add implements [dict.Store]. It upserts the entry for (scope, surface).
func (s *Store) Add(ctx context.Context, e dict.Entry) error {
	const q = `
		INSERT INTO dict_entries (scope, surface, reading, priority)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (scope, surface) DO UPDATE
		SET reading = EXCLUDED.reading,
		    priority = EXCLUDED.priority,
		    created_at = now()`

	if _, err := s.pool.Exec(ctx, q, e.Scope, e.Surface, e.Reading, e.Priority); err != nil {
		return fmt.Errorf("dict store: add: %w", err)
	}
	return nil
}

// Remove implements [dict.Store].
func (s *Store) Remove(ctx context.Context, scope, surface string) (bool, error) {
	const q = `DELETE FROM dict_entries WHERE scope = $1 AND surface = $2`

	tag, err := s.pool.Exec(ctx, q, scope, surface)
	if err != nil {
		return false, fmt.Errorf("dict store: remove: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func collectEntries(rows pgx.Rows) ([]dict.Entry, error) {
	defer rows.Close()

	var out []dict.Entry
	for rows.Next() {
		var e dict.Entry
		if err := rows.Scan(&e.Scope, &e.Surface, &e.Reading, &e.Priority, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("dict store: scan: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dict store: rows: %w", err)
	}
	return out, nil
}
