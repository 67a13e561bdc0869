package discord

import (
	"context"
	"errors"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/kisaragi-dev/yomivox/internal/engine"
	"github.com/kisaragi-dev/yomivox/internal/store"
	"github.com/kisaragi-dev/yomivox/pkg/voicevox"
)

// announcerParams is the synthesis voice for join/leave announcements.
var announcerParams = voicevox.Params{Speaker: 1, Speed: 1.0, Pitch: 0.0}

// VoiceWatcher reacts to voice-state changes: it announces joins and leaves
// in the session's voice channel and auto-joins the configured channel when
// its first human member arrives.
type VoiceWatcher struct {
	sessions *engine.Registry
	settings store.SettingsStore
	log      *slog.Logger
}

// NewVoiceWatcher creates a VoiceWatcher.
func NewVoiceWatcher(sessions *engine.Registry, settings store.SettingsStore, log *slog.Logger) *VoiceWatcher {
	if log == nil {
		log = slog.Default()
	}
	return &VoiceWatcher{sessions: sessions, settings: settings, log: log}
}

// HandleVoiceState is the VoiceStateUpdate handler.
func (w *VoiceWatcher) HandleVoiceState(s *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
	if vs.GuildID == "" || vs.UserID == s.State.User.ID {
		return
	}
	if vs.Member != nil && vs.Member.User != nil && vs.Member.User.Bot {
		return
	}

	var before string
	if vs.BeforeUpdate != nil {
		before = vs.BeforeUpdate.ChannelID
	}
	if vs.ChannelID == before {
		// Mute/deafen toggle, not a channel move.
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	settings, err := w.settings.Settings(ctx, vs.GuildID)
	if err != nil {
		w.log.Warn("failed to load guild settings", "guild_id", vs.GuildID, "err", err)
		settings = store.DefaultSettings(vs.GuildID)
	}

	if vs.ChannelID != "" {
		w.handleJoin(ctx, s, vs, settings)
	}
	if before != "" {
		w.handleLeave(s, vs, before, settings)
	}
}

func (w *VoiceWatcher) handleJoin(ctx context.Context, s *discordgo.Session, vs *discordgo.VoiceStateUpdate, settings store.GuildSettings) {
	if settings.AutoJoin && vs.ChannelID == settings.AutoJoinVoiceChannelID {
		w.autoJoin(ctx, vs, settings)
	}
	w.announce(s, vs, vs.ChannelID, settings, "が入室しました")
}

func (w *VoiceWatcher) handleLeave(s *discordgo.Session, vs *discordgo.VoiceStateUpdate, channelID string, settings store.GuildSettings) {
	w.announce(s, vs, channelID, settings, "が退室しました")
}

// HandleGuildRemove tears the guild's session down when the bot is removed
// from the guild. An unavailable guild is a Discord outage, not a removal,
// and keeps its session.
func (w *VoiceWatcher) HandleGuildRemove(_ *discordgo.Session, g *discordgo.GuildDelete) {
	if g.Unavailable {
		return
	}
	sess, ok := w.sessions.Get(g.ID)
	if !ok || sess.State() == engine.StateDisconnected {
		return
	}

	w.log.Info("removed from guild, closing session", "guild_id", g.ID)
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := sess.Leave(ctx); err != nil && !errors.Is(err, engine.ErrNotConnected) {
		w.log.Warn("failed to close session on guild removal", "guild_id", g.ID, "err", err)
	}
}

// autoJoin connects the guild session to the configured channels. Already
// being connected is the common case and not an error.
func (w *VoiceWatcher) autoJoin(ctx context.Context, vs *discordgo.VoiceStateUpdate, settings store.GuildSettings) {
	textChannelID := settings.AutoJoinTextChannelID
	if textChannelID == "" {
		w.log.Warn("auto-join configured without a text channel", "guild_id", vs.GuildID)
		return
	}

	sess := w.sessions.GetOrCreate(vs.GuildID)
	err := sess.Join(ctx, settings.AutoJoinVoiceChannelID, textChannelID)
	switch {
	case err == nil:
		w.log.Info("auto-joined voice channel",
			"guild_id", vs.GuildID, "voice_channel_id", settings.AutoJoinVoiceChannelID)
	case errors.Is(err, engine.ErrAlreadyConnected):
	default:
		w.log.Warn("auto-join failed", "guild_id", vs.GuildID, "err", err)
	}
}

// announce enqueues a join/leave utterance when the change happened in the
// session's own voice channel and the guild reads VC status.
func (w *VoiceWatcher) announce(s *discordgo.Session, vs *discordgo.VoiceStateUpdate, channelID string, settings store.GuildSettings, suffix string) {
	if !settings.ReadVCStatus {
		return
	}
	sess, ok := w.sessions.Get(vs.GuildID)
	if !ok || (sess.State() != engine.StateConnected && sess.State() != engine.StatePlaying) {
		return
	}
	if channelID != sess.VoiceChannelID() {
		return
	}

	name := memberName(s, vs)
	if name == "" {
		return
	}
	sess.Enqueue("", spokenName(name, settings.AddSuffix)+suffix, announcerParams)
}

// memberName resolves the display name of the member behind a voice state.
func memberName(s *discordgo.Session, vs *discordgo.VoiceStateUpdate) string {
	if vs.Member != nil {
		if vs.Member.Nick != "" {
			return vs.Member.Nick
		}
		if vs.Member.User != nil {
			return displayName(s, vs.GuildID, vs.Member.User)
		}
	}
	if member, err := s.State.Member(vs.GuildID, vs.UserID); err == nil {
		if member.Nick != "" {
			return member.Nick
		}
		if member.User != nil {
			return displayName(s, vs.GuildID, member.User)
		}
	}
	return ""
}
