package postgres

import (
	"context"
	"fmt"

	"github.com/kisaragi-dev/yomivox/internal/store"
)

// Sessions implements [store.SessionStore]. It returns every persisted voice
// session, for startup restore.
func (s *Store) Sessions(ctx context.Context) ([]store.SessionRecord, error) {
	const q = `
		SELECT guild_id, voice_channel_id, text_channel_id
		FROM   voice_sessions
		ORDER  BY guild_id`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("session store: list: %w", err)
	}
	defer rows.Close()

	var out []store.SessionRecord
	for rows.Next() {
		var rec store.SessionRecord
		if err := rows.Scan(&rec.GuildID, &rec.VoiceChannelID, &rec.TextChannelID); err != nil {
			return nil, fmt.Errorf("session store: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("session store: rows: %w", err)
	}
	return out, nil
}

// SaveSession implements [store.SessionStore].
func (s *Store) SaveSession(ctx context.Context, rec store.SessionRecord) error {
	const q = `
		INSERT INTO voice_sessions (guild_id, voice_channel_id, text_channel_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (guild_id) DO UPDATE
		SET voice_channel_id = EXCLUDED.voice_channel_id,
		    text_channel_id = EXCLUDED.text_channel_id,
		    updated_at = now()`

	if _, err := s.pool.Exec(ctx, q, rec.GuildID, rec.VoiceChannelID, rec.TextChannelID); err != nil {
		return fmt.Errorf("session store: save: %w", err)
	}
	return nil
}

// DeleteSession implements [store.SessionStore].
func (s *Store) DeleteSession(ctx context.Context, guildID string) error {
	const q = `DELETE FROM voice_sessions WHERE guild_id = $1`

	if _, err := s.pool.Exec(ctx, q, guildID); err != nil {
		return fmt.Errorf("session store: delete: %w", err)
	}
	return nil
}
