// Package commands implements the yomivox slash commands.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/kisaragi-dev/yomivox/internal/discord"
	"github.com/kisaragi-dev/yomivox/internal/engine"
)

// commandTimeout bounds session control calls made from slash commands.
const commandTimeout = 15 * time.Second

// VoiceCommands handles /join, /leave, and /skip.
type VoiceCommands struct {
	sessions *engine.Registry
	log      *slog.Logger
}

// NewVoiceCommands creates a VoiceCommands handler.
func NewVoiceCommands(sessions *engine.Registry, log *slog.Logger) *VoiceCommands {
	if log == nil {
		log = slog.Default()
	}
	return &VoiceCommands{sessions: sessions, log: log}
}

// Register registers the voice commands with the router.
func (vc *VoiceCommands) Register(router *discord.CommandRouter) {
	router.RegisterCommand("join", &discordgo.ApplicationCommand{
		Name:        "join",
		Description: "Join your voice channel and read this text channel aloud",
	}, vc.handleJoin)
	router.RegisterCommand("leave", &discordgo.ApplicationCommand{
		Name:        "leave",
		Description: "Leave the voice channel",
	}, vc.handleLeave)
	router.RegisterCommand("skip", &discordgo.ApplicationCommand{
		Name:        "skip",
		Description: "Skip the clip currently being read",
	}, vc.handleSkip)
}

func (vc *VoiceCommands) handleJoin(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.GuildID == "" {
		discord.RespondEphemeral(s, i, "This command only works in a server.")
		return
	}

	channelID := invokerVoiceChannel(s, i)
	if channelID == "" {
		discord.RespondEphemeral(s, i, "Join a voice channel first.")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	sess := vc.sessions.GetOrCreate(i.GuildID)
	err := sess.Join(ctx, channelID, i.ChannelID)
	switch {
	case err == nil:
		discord.Respond(s, i, fmt.Sprintf("Reading <#%s> aloud in <#%s>.", i.ChannelID, channelID))
	case errors.Is(err, engine.ErrAlreadyConnected):
		discord.RespondEphemeral(s, i,
			fmt.Sprintf("Already connected to <#%s>. Use /leave first.", sess.VoiceChannelID()))
	default:
		vc.log.Warn("join failed", "guild_id", i.GuildID, "err", err)
		discord.RespondEphemeral(s, i, "Could not join the voice channel.")
	}
}

func (vc *VoiceCommands) handleLeave(s *discordgo.Session, i *discordgo.InteractionCreate) {
	sess, ok := vc.sessions.Get(i.GuildID)
	if !ok {
		discord.RespondEphemeral(s, i, "Not connected.")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	err := sess.Leave(ctx)
	switch {
	case err == nil:
		discord.Respond(s, i, "Left the voice channel.")
	case errors.Is(err, engine.ErrNotConnected):
		discord.RespondEphemeral(s, i, "Not connected.")
	default:
		vc.log.Warn("leave failed", "guild_id", i.GuildID, "err", err)
		discord.RespondError(s, i, err)
	}
}

func (vc *VoiceCommands) handleSkip(s *discordgo.Session, i *discordgo.InteractionCreate) {
	sess, ok := vc.sessions.Get(i.GuildID)
	if !ok || sess.State() != engine.StatePlaying {
		discord.RespondEphemeral(s, i, "Nothing is being read right now.")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if err := sess.Skip(ctx); err != nil {
		discord.RespondError(s, i, err)
		return
	}
	discord.RespondEphemeral(s, i, "Skipped.")
}

// invokerVoiceChannel finds the voice channel the interaction author is in,
// or "" when they are not in one.
func invokerVoiceChannel(s *discordgo.Session, i *discordgo.InteractionCreate) string {
	if i.Member == nil || i.Member.User == nil {
		return ""
	}
	vs, err := s.State.VoiceState(i.GuildID, i.Member.User.ID)
	if err != nil || vs == nil {
		return ""
	}
	return vs.ChannelID
}
