package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/kisaragi-dev/yomivox/internal/store"
)

// Profile implements [store.ProfileStore]. Unknown users get the default
// profile.
func (s *Store) Profile(ctx context.Context, userID string) (store.VoiceProfile, error) {
	const q = `
		SELECT speaker, speed, pitch
		FROM   voice_profiles
		WHERE  user_id = $1`

	p := store.VoiceProfile{UserID: userID}
	err := s.pool.QueryRow(ctx, q, userID).Scan(&p.Speaker, &p.Speed, &p.Pitch)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.DefaultProfile(userID), nil
	}
	if err != nil {
		return store.VoiceProfile{}, fmt.Errorf("profile store: get: %w", err)
	}
	return p, nil
}

// SetProfile implements [store.ProfileStore].
func (s *Store) SetProfile(ctx context.Context, p store.VoiceProfile) error {
	const q = `
		INSERT INTO voice_profiles (user_id, speaker, speed, pitch)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET speaker = EXCLUDED.speaker,
		    speed = EXCLUDED.speed,
		    pitch = EXCLUDED.pitch,
		    updated_at = now()`

	if _, err := s.pool.Exec(ctx, q, p.UserID, p.Speaker, p.Speed, p.Pitch); err != nil {
		return fmt.Errorf("profile store: set: %w", err)
	}
	return nil
}
