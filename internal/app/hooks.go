package app

import (
	"context"
	"sync"
	"time"

	"github.com/kisaragi-dev/yomivox/internal/engine"
	"github.com/kisaragi-dev/yomivox/internal/observe"
	"github.com/kisaragi-dev/yomivox/internal/store"
)

// persistTimeout bounds session persistence writes triggered from hooks.
const persistTimeout = 5 * time.Second

// engineHooks builds the engine callbacks: metrics on every event plus
// voice-session persistence so the bot rejoins channels after a restart.
// Hooks run on session workers, so persistence writes are dispatched to
// goroutines.
func (a *App) engineHooks() engine.Hooks {
	// QueueDepth is an up-down counter, so per-guild deltas are derived
	// from the last reported depth. textChannels remembers each session's
	// bound channel for disconnect notices.
	var mu sync.Mutex
	lastDepth := make(map[string]int)
	textChannels := make(map[string]string)

	return engine.Hooks{
		OnConnected: func(guildID, voiceChannelID, textChannelID string) {
			mu.Lock()
			textChannels[guildID] = textChannelID
			mu.Unlock()
			a.metrics.ActiveSessions.Add(context.Background(), 1)
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
				defer cancel()
				err := a.stores.SaveSession(ctx, store.SessionRecord{
					GuildID:        guildID,
					VoiceChannelID: voiceChannelID,
					TextChannelID:  textChannelID,
				})
				if err != nil {
					a.log.Warn("failed to persist session", "guild_id", guildID, "err", err)
				}
			}()
		},

		OnDisconnected: func(guildID string, reason engine.DisconnectReason) {
			mu.Lock()
			textChannelID := textChannels[guildID]
			delete(textChannels, guildID)
			mu.Unlock()

			a.metrics.ActiveSessions.Add(context.Background(), -1)
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
				defer cancel()
				if err := a.stores.DeleteSession(ctx, guildID); err != nil {
					a.log.Warn("failed to delete persisted session", "guild_id", guildID, "err", err)
				}
			}()
			go a.notifyDisconnect(guildID, textChannelID, reason)
		},

		OnDropped: func(guildID string, _ engine.Request) {
			a.metrics.RecordDropped(context.Background(), guildID)
		},

		OnSynthesized: func(guildID string, dur time.Duration) {
			a.metrics.SynthesisDuration.Record(context.Background(),
				dur.Seconds(), observe.GuildAttr(guildID))
		},

		OnSynthesisError: func(guildID string, _ error) {
			a.metrics.RecordSynthesisError(context.Background(), guildID)
		},

		OnPlayed: func(guildID string, dur time.Duration) {
			a.metrics.PlaybackDuration.Record(context.Background(),
				dur.Seconds(), observe.GuildAttr(guildID))
		},

		OnQueueDepth: func(guildID string, depth int) {
			mu.Lock()
			delta := depth - lastDepth[guildID]
			lastDepth[guildID] = depth
			mu.Unlock()
			if delta != 0 {
				a.metrics.QueueDepth.Add(context.Background(), int64(delta),
					observe.GuildAttr(guildID))
			}
		},
	}
}

// notifyDisconnect posts a notice to the session's bound text channel when
// the session ended without the user asking for it.
func (a *App) notifyDisconnect(guildID, textChannelID string, reason engine.DisconnectReason) {
	if a.bot == nil || textChannelID == "" {
		return
	}

	var msg string
	switch reason {
	case engine.ReasonChannelEmpty:
		msg = "Voice channel is empty, leaving."
	case engine.ReasonConnectionLost:
		msg = "Voice connection lost, stopping."
	default:
		return
	}

	if _, err := a.bot.Session().ChannelMessageSend(textChannelID, msg); err != nil {
		a.log.Warn("failed to send disconnect notice",
			"guild_id", guildID, "channel_id", textChannelID, "err", err)
	}
}
