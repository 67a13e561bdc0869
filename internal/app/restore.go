package app

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"
)

// restoreTimeout bounds the whole startup-restore pass.
const restoreTimeout = 30 * time.Second

// restoreSessions rejoins the voice channels the bot was reading before the
// last shutdown. Channels that emptied in the meantime get their record
// dropped instead.
func (a *App) restoreSessions(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, restoreTimeout)
	defer cancel()

	records, err := a.stores.Sessions(ctx)
	if err != nil {
		a.log.Warn("failed to load persisted sessions", "err", err)
		return
	}

	dg := a.bot.Session()
	for _, rec := range records {
		if humanCount(dg, rec.GuildID, rec.VoiceChannelID) == 0 {
			a.log.Info("not restoring session, channel empty",
				"guild_id", rec.GuildID, "voice_channel_id", rec.VoiceChannelID)
			if err := a.stores.DeleteSession(ctx, rec.GuildID); err != nil {
				a.log.Warn("failed to delete stale session", "guild_id", rec.GuildID, "err", err)
			}
			continue
		}

		sess := a.registry.GetOrCreate(rec.GuildID)
		if err := sess.Join(ctx, rec.VoiceChannelID, rec.TextChannelID); err != nil {
			a.log.Warn("failed to restore session",
				"guild_id", rec.GuildID, "voice_channel_id", rec.VoiceChannelID, "err", err)
			continue
		}
		a.log.Info("session restored",
			"guild_id", rec.GuildID, "voice_channel_id", rec.VoiceChannelID)
	}
}

// humanCount counts non-bot members currently in a voice channel.
func humanCount(dg *discordgo.Session, guildID, channelID string) int {
	guild, err := dg.State.Guild(guildID)
	if err != nil {
		return 0
	}

	count := 0
	for _, vs := range guild.VoiceStates {
		if vs.ChannelID != channelID {
			continue
		}
		member, err := dg.State.Member(guildID, vs.UserID)
		if err == nil && member.User != nil && member.User.Bot {
			continue
		}
		count++
	}
	return count
}
