package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/kisaragi-dev/yomivox/internal/store"
)

// Settings implements [store.SettingsStore]. Unknown guilds get the default
// settings.
func (s *Store) Settings(ctx context.Context, guildID string) (store.GuildSettings, error) {
	const q = `SELECT settings FROM guild_settings WHERE guild_id = $1`

	var raw []byte
	err := s.pool.QueryRow(ctx, q, guildID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.DefaultSettings(guildID), nil
	}
	if err != nil {
		return store.GuildSettings{}, fmt.Errorf("settings store: get: %w", err)
	}

	gs := store.DefaultSettings(guildID)
	if err := json.Unmarshal(raw, &gs); err != nil {
		return store.GuildSettings{}, fmt.Errorf("settings store: decode: %w", err)
	}
	gs.GuildID = guildID
	return gs, nil
}

// SetSettings implements [store.SettingsStore].
func (s *Store) SetSettings(ctx context.Context, gs store.GuildSettings) error {
	raw, err := json.Marshal(gs)
	if err != nil {
		return fmt.Errorf("settings store: encode: %w", err)
	}

	const q = `
		INSERT INTO guild_settings (guild_id, settings)
		VALUES ($1, $2)
		ON CONFLICT (guild_id) DO UPDATE
		SET settings = EXCLUDED.settings,
		    updated_at = now()`

	if _, err := s.pool.Exec(ctx, q, gs.GuildID, raw); err != nil {
		return fmt.Errorf("settings store: set: %w", err)
	}
	return nil
}
