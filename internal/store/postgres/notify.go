package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// settingsChannel is the pg_notify channel fired by the triggers that
// [Migrate] installs on guild_settings and dict_entries.
const settingsChannel = "settings_change"

// Change is one decoded settings_change notification.
type Change struct {
	// Table is the mutated table ("guild_settings" or "dict_entries").
	Table string `json:"table"`

	// Key is the row key: guild ID for settings, scope for dictionary
	// entries ("" for the global scope).
	Key string `json:"key"`
}

// Listen blocks on the settings_change channel and invokes fn for every
// notification until ctx is cancelled. The connection is re-established
// with a short delay after failures, so a database restart only delays
// cache invalidation instead of stopping it.
func (s *Store) Listen(ctx context.Context, log *slog.Logger, fn func(Change)) error {
	if log == nil {
		log = slog.Default()
	}

	for {
		err := s.listenOnce(ctx, fn)
		if ctx.Err() != nil {
			return nil
		}
		log.Warn("settings listener disconnected, reconnecting", "err", err)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(3 * time.Second):
		}
	}
}

func (s *Store) listenOnce(ctx context.Context, fn func(Change)) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("postgres listen: acquire: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+settingsChannel); err != nil {
		return fmt.Errorf("postgres listen: %w", err)
	}

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("postgres listen: wait: %w", err)
		}

		var c Change
		if err := json.Unmarshal([]byte(n.Payload), &c); err != nil {
			// Malformed payloads are skipped rather than tearing the
			// listener down.
			continue
		}
		fn(c)
	}
}
