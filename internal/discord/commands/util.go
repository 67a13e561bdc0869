package commands

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/kisaragi-dev/yomivox/internal/discord"
)

// UtilCommands handles /ping and the owner-only /sync.
type UtilCommands struct {
	bot   *discord.Bot
	perms *discord.PermissionChecker
	log   *slog.Logger
}

// NewUtilCommands creates a UtilCommands handler.
func NewUtilCommands(bot *discord.Bot, log *slog.Logger) *UtilCommands {
	if log == nil {
		log = slog.Default()
	}
	return &UtilCommands{bot: bot, perms: bot.Permissions(), log: log}
}

// Register registers the utility commands with the router.
func (uc *UtilCommands) Register(router *discord.CommandRouter) {
	router.RegisterCommand("ping", &discordgo.ApplicationCommand{
		Name:        "ping",
		Description: "Check that the bot is alive",
	}, uc.handlePing)
	router.RegisterCommand("sync", &discordgo.ApplicationCommand{
		Name:        "sync",
		Description: "Re-register slash commands (owner only)",
	}, uc.handleSync)
}

func (uc *UtilCommands) handlePing(s *discordgo.Session, i *discordgo.InteractionCreate) {
	discord.RespondEphemeral(s, i, fmt.Sprintf("Pong. Gateway latency %s.", s.HeartbeatLatency().Round(time.Millisecond)))
}

func (uc *UtilCommands) handleSync(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !uc.perms.IsOwner(i) {
		discord.RespondEphemeral(s, i, "Owner only.")
		return
	}
	if err := uc.bot.SyncCommands(); err != nil {
		uc.log.Warn("command sync failed", "err", err)
		discord.RespondError(s, i, err)
		return
	}
	discord.RespondEphemeral(s, i, "Commands re-registered.")
}
