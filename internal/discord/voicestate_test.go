package discord

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/kisaragi-dev/yomivox/internal/engine"
	"github.com/kisaragi-dev/yomivox/internal/store/memstore"
	"github.com/kisaragi-dev/yomivox/internal/voice"
	"github.com/kisaragi-dev/yomivox/internal/voice/mock"
	"github.com/kisaragi-dev/yomivox/pkg/voicevox"
)

type stubSynth struct{}

func (stubSynth) Synthesize(_ context.Context, text string, _ voicevox.Params) ([]byte, error) {
	return []byte(text), nil
}

func newWatcherRegistry(t *testing.T) *engine.Registry {
	t.Helper()
	dialer := &mock.Dialer{
		DialFunc: func(_ context.Context, _, channelID string) (voice.Conn, error) {
			return mock.NewConn(channelID, 1), nil
		},
	}
	reg := engine.NewRegistry(func(guildID string) *engine.Session {
		return engine.NewSession(guildID, stubSynth{}, dialer, engine.DefaultConfig(), engine.Hooks{}, nil)
	}, time.Minute, nil)
	t.Cleanup(reg.Close)
	return reg
}

func TestHandleGuildRemoveClosesSession(t *testing.T) {
	t.Parallel()

	reg := newWatcherRegistry(t)
	sess := reg.GetOrCreate("g1")
	if err := sess.Join(context.Background(), "vc-1", "tc-1"); err != nil {
		t.Fatalf("Join: %v", err)
	}

	w := NewVoiceWatcher(reg, memstore.New(), nil)
	w.HandleGuildRemove(nil, &discordgo.GuildDelete{Guild: &discordgo.Guild{ID: "g1"}})

	if got := sess.State(); got != engine.StateDisconnected {
		t.Errorf("state = %v, want disconnected after guild removal", got)
	}
}

func TestHandleGuildRemoveKeepsUnavailableGuild(t *testing.T) {
	t.Parallel()

	reg := newWatcherRegistry(t)
	sess := reg.GetOrCreate("g1")
	if err := sess.Join(context.Background(), "vc-1", "tc-1"); err != nil {
		t.Fatalf("Join: %v", err)
	}

	w := NewVoiceWatcher(reg, memstore.New(), nil)

	// An unavailable guild means a Discord outage; the session must survive.
	w.HandleGuildRemove(nil, &discordgo.GuildDelete{Guild: &discordgo.Guild{ID: "g1", Unavailable: true}})

	if got := sess.State(); got != engine.StateConnected {
		t.Errorf("state = %v, want still connected during outage", got)
	}
}

func TestHandleGuildRemoveWithoutSession(t *testing.T) {
	t.Parallel()

	w := NewVoiceWatcher(newWatcherRegistry(t), memstore.New(), nil)
	// Must not create a session for a guild the bot never read in.
	w.HandleGuildRemove(nil, &discordgo.GuildDelete{Guild: &discordgo.Guild{ID: "g2"}})
}
