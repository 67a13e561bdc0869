package store

import (
	"context"
	"testing"
	"time"
)

type countingSettings struct {
	calls    int
	settings map[string]GuildSettings
}

func (c *countingSettings) Settings(_ context.Context, guildID string) (GuildSettings, error) {
	c.calls++
	if gs, ok := c.settings[guildID]; ok {
		return gs, nil
	}
	return DefaultSettings(guildID), nil
}

func (c *countingSettings) SetSettings(_ context.Context, gs GuildSettings) error {
	if c.settings == nil {
		c.settings = make(map[string]GuildSettings)
	}
	c.settings[gs.GuildID] = gs
	return nil
}

func TestCachedSettingsReadThrough(t *testing.T) {
	t.Parallel()

	inner := &countingSettings{}
	c := NewCachedSettings(inner, 8, time.Minute)

	for range 3 {
		if _, err := c.Settings(context.Background(), "g1"); err != nil {
			t.Fatal(err)
		}
	}
	if inner.calls != 1 {
		t.Errorf("inner calls = %d, want 1", inner.calls)
	}
}

func TestCachedSettingsInvalidate(t *testing.T) {
	t.Parallel()

	inner := &countingSettings{}
	c := NewCachedSettings(inner, 8, time.Minute)

	gs, _ := c.Settings(context.Background(), "g1")
	if gs.MaxChars != DefaultMaxChars {
		t.Fatalf("MaxChars = %d, want default", gs.MaxChars)
	}

	// A write behind the cache is invisible until invalidation.
	updated := DefaultSettings("g1")
	updated.MaxChars = 200
	inner.SetSettings(context.Background(), updated)

	gs, _ = c.Settings(context.Background(), "g1")
	if gs.MaxChars != DefaultMaxChars {
		t.Fatalf("stale read expected before invalidation, got MaxChars=%d", gs.MaxChars)
	}

	c.Invalidate("g1")
	gs, _ = c.Settings(context.Background(), "g1")
	if gs.MaxChars != 200 {
		t.Errorf("MaxChars after invalidation = %d, want 200", gs.MaxChars)
	}
}

func TestCachedSettingsWriteDropsRow(t *testing.T) {
	t.Parallel()

	inner := &countingSettings{}
	c := NewCachedSettings(inner, 8, time.Minute)

	c.Settings(context.Background(), "g1")

	updated := DefaultSettings("g1")
	updated.ReadEmoji = true
	if err := c.SetSettings(context.Background(), updated); err != nil {
		t.Fatal(err)
	}

	gs, _ := c.Settings(context.Background(), "g1")
	if !gs.ReadEmoji {
		t.Error("SetSettings did not drop the cached row")
	}
}
