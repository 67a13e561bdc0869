package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlTables = `
CREATE TABLE IF NOT EXISTS dict_entries (
    scope       TEXT         NOT NULL DEFAULT '',
    surface     TEXT         NOT NULL,
    reading     TEXT         NOT NULL,
    priority    INTEGER      NOT NULL DEFAULT 0,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (scope, surface)
);

CREATE INDEX IF NOT EXISTS idx_dict_entries_scope
    ON dict_entries (scope);

CREATE TABLE IF NOT EXISTS voice_profiles (
    user_id     TEXT              PRIMARY KEY,
    speaker     INTEGER           NOT NULL,
    speed       DOUBLE PRECISION  NOT NULL,
    pitch       DOUBLE PRECISION  NOT NULL,
    updated_at  TIMESTAMPTZ       NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS guild_settings (
    guild_id    TEXT         PRIMARY KEY,
    settings    JSONB        NOT NULL,
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS voice_sessions (
    guild_id          TEXT         PRIMARY KEY,
    voice_channel_id  TEXT         NOT NULL,
    text_channel_id   TEXT         NOT NULL,
    updated_at        TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

// ddlNotify wires a pg_notify onto settings-affecting tables. The payload
// carries the table name and the row key so listeners can invalidate a
// single cache entry instead of flushing everything.
const ddlNotify = `
CREATE OR REPLACE FUNCTION yomivox_notify_settings_change() RETURNS trigger AS $$
DECLARE
    key TEXT;
BEGIN
    IF TG_TABLE_NAME = 'guild_settings' THEN
        key := COALESCE(NEW.guild_id, OLD.guild_id);
    ELSE
        key := COALESCE(NEW.scope, OLD.scope);
    END IF;
    PERFORM pg_notify(
        'settings_change',
        json_build_object('table', TG_TABLE_NAME, 'key', key)::text
    );
    RETURN COALESCE(NEW, OLD);
END;
$$ LANGUAGE plpgsql;

CREATE OR REPLACE TRIGGER trg_guild_settings_notify
    AFTER INSERT OR UPDATE OR DELETE ON guild_settings
    FOR EACH ROW EXECUTE FUNCTION yomivox_notify_settings_change();

CREATE OR REPLACE TRIGGER trg_dict_entries_notify
    AFTER INSERT OR UPDATE OR DELETE ON dict_entries
    FOR EACH ROW EXECUTE FUNCTION yomivox_notify_settings_change();
`

// Migrate creates or ensures all tables and notification triggers exist.
// It is idempotent and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlTables, ddlNotify} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
