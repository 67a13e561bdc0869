package store

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachedSettings wraps a SettingsStore with a small read-through cache.
// Writes go straight through and drop the cached row; external writers
// (another process, the admin surface) are covered by Invalidate, wired to
// the database's settings_change notifications. The TTL bounds staleness if
// a notification is ever lost.
type CachedSettings struct {
	inner SettingsStore
	cache *expirable.LRU[string, GuildSettings]
}

var _ SettingsStore = (*CachedSettings)(nil)

// NewCachedSettings caches up to size guilds for at most ttl.
func NewCachedSettings(inner SettingsStore, size int, ttl time.Duration) *CachedSettings {
	if size <= 0 {
		size = 256
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedSettings{
		inner: inner,
		cache: expirable.NewLRU[string, GuildSettings](size, nil, ttl),
	}
}

func (c *CachedSettings) Settings(ctx context.Context, guildID string) (GuildSettings, error) {
	if gs, ok := c.cache.Get(guildID); ok {
		return gs, nil
	}
	gs, err := c.inner.Settings(ctx, guildID)
	if err != nil {
		return GuildSettings{}, err
	}
	c.cache.Add(guildID, gs)
	return gs, nil
}

func (c *CachedSettings) SetSettings(ctx context.Context, gs GuildSettings) error {
	if err := c.inner.SetSettings(ctx, gs); err != nil {
		return err
	}
	c.cache.Remove(gs.GuildID)
	return nil
}

// Invalidate drops the cached row for a guild.
func (c *CachedSettings) Invalidate(guildID string) {
	c.cache.Remove(guildID)
}
