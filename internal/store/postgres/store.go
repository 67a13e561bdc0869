// Package postgres is the PostgreSQL persistence backend: dictionary
// entries, voice profiles, guild settings, and persisted voice sessions,
// all sharing one [pgxpool.Pool].
//
// Mutations to guild_settings and dict_entries fire a pg_notify on the
// "settings_change" channel via triggers installed by [Migrate], so every
// process (including the one that made the change through the admin surface)
// can invalidate its in-memory caches; see [Store.Listen].
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kisaragi-dev/yomivox/internal/dict"
	"github.com/kisaragi-dev/yomivox/internal/store"
)

var (
	_ store.ProfileStore  = (*Store)(nil)
	_ store.SettingsStore = (*Store)(nil)
	_ store.SessionStore  = (*Store)(nil)
	_ dict.Store          = (*Store)(nil)
)

// Store is the PostgreSQL-backed persistence layer. All operations are safe
// for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store, establishes a connection pool to the database at
// dsn, and runs [Migrate] to ensure all tables and triggers exist.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Ping reports whether the database is reachable. Used by health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}
