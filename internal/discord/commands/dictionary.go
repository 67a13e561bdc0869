package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/kisaragi-dev/yomivox/internal/dict"
	"github.com/kisaragi-dev/yomivox/internal/discord"
)

// listLimit caps how many entries /dictionary list shows in one embed.
const listLimit = 25

// DictionaryCommands handles the /dictionary command group. Slash commands
// always operate on the invoking guild's scope; the global dictionary is
// managed through the admin API.
type DictionaryCommands struct {
	store dict.Store
	perms *discord.PermissionChecker
	log   *slog.Logger
}

// NewDictionaryCommands creates a DictionaryCommands handler.
func NewDictionaryCommands(store dict.Store, perms *discord.PermissionChecker, log *slog.Logger) *DictionaryCommands {
	if log == nil {
		log = slog.Default()
	}
	return &DictionaryCommands{store: store, perms: perms, log: log}
}

// Register registers the /dictionary subcommands with the router.
func (dc *DictionaryCommands) Register(router *discord.CommandRouter) {
	router.RegisterCommand("dictionary", dc.definition(), func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		discord.RespondEphemeral(s, i, "Please use a subcommand: `/dictionary add`, `/dictionary remove`, `/dictionary list`.")
	})
	router.RegisterHandler("dictionary/add", dc.handleAdd)
	router.RegisterHandler("dictionary/remove", dc.handleRemove)
	router.RegisterHandler("dictionary/list", dc.handleList)
}

func (dc *DictionaryCommands) definition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "dictionary",
		Description: "Manage this server's reading dictionary",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Name:        "add",
				Description: "Add or replace a reading",
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Options: []*discordgo.ApplicationCommandOption{
					{
						Name:        "surface",
						Description: "Text as it appears in chat",
						Type:        discordgo.ApplicationCommandOptionString,
						Required:    true,
					},
					{
						Name:        "reading",
						Description: "How it should be read aloud",
						Type:        discordgo.ApplicationCommandOptionString,
						Required:    true,
					},
					{
						Name:        "priority",
						Description: "Tie-break priority between same-length surfaces",
						Type:        discordgo.ApplicationCommandOptionInteger,
					},
				},
			},
			{
				Name:        "remove",
				Description: "Remove a reading",
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Options: []*discordgo.ApplicationCommandOption{
					{
						Name:        "surface",
						Description: "Surface to remove",
						Type:        discordgo.ApplicationCommandOptionString,
						Required:    true,
					},
				},
			},
			{
				Name:        "list",
				Description: "List this server's readings",
				Type:        discordgo.ApplicationCommandOptionSubCommand,
			},
		},
	}
}

func (dc *DictionaryCommands) handleAdd(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !dc.perms.CanManage(i) {
		discord.RespondEphemeral(s, i, "You need the Manage Server permission to edit the dictionary.")
		return
	}

	opts := optionMap(i.ApplicationCommandData().Options[0].Options)
	surface := strings.TrimSpace(opts["surface"].StringValue())
	reading := strings.TrimSpace(opts["reading"].StringValue())
	if surface == "" || reading == "" {
		discord.RespondEphemeral(s, i, "Surface and reading must not be empty.")
		return
	}

	entry := dict.Entry{
		Scope:     i.GuildID,
		Surface:   surface,
		Reading:   reading,
		CreatedAt: time.Now(),
	}
	if opt, ok := opts["priority"]; ok {
		entry.Priority = int(opt.IntValue())
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if err := dc.store.Add(ctx, entry); err != nil {
		dc.log.Warn("failed to add dictionary entry", "guild_id", i.GuildID, "err", err)
		discord.RespondEphemeral(s, i, "Could not save the entry.")
		return
	}
	discord.RespondEphemeral(s, i, fmt.Sprintf("%s → %s registered.", surface, reading))
}

func (dc *DictionaryCommands) handleRemove(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !dc.perms.CanManage(i) {
		discord.RespondEphemeral(s, i, "You need the Manage Server permission to edit the dictionary.")
		return
	}

	opts := optionMap(i.ApplicationCommandData().Options[0].Options)
	surface := strings.TrimSpace(opts["surface"].StringValue())

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	removed, err := dc.store.Remove(ctx, i.GuildID, surface)
	if err != nil {
		dc.log.Warn("failed to remove dictionary entry", "guild_id", i.GuildID, "err", err)
		discord.RespondEphemeral(s, i, "Could not remove the entry.")
		return
	}
	if removed {
		discord.RespondEphemeral(s, i, fmt.Sprintf("%s removed.", surface))
		return
	}

	// Not found: suggest the closest registered surface.
	msg := fmt.Sprintf("%s is not registered.", surface)
	if entries, err := dc.store.List(ctx, i.GuildID); err == nil {
		if closest, ok := dict.Suggest(entries, surface); ok {
			msg += fmt.Sprintf(" Did you mean %s?", closest)
		}
	}
	discord.RespondEphemeral(s, i, msg)
}

func (dc *DictionaryCommands) handleList(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	entries, err := dc.store.List(ctx, i.GuildID)
	if err != nil {
		dc.log.Warn("failed to list dictionary", "guild_id", i.GuildID, "err", err)
		discord.RespondEphemeral(s, i, "Could not load the dictionary.")
		return
	}
	if len(entries) == 0 {
		discord.RespondEphemeral(s, i, "No readings registered yet. Try `/dictionary add`.")
		return
	}

	var b strings.Builder
	for n, e := range entries {
		if n == listLimit {
			fmt.Fprintf(&b, "… and %d more", len(entries)-listLimit)
			break
		}
		fmt.Fprintf(&b, "%s → %s\n", e.Surface, e.Reading)
	}
	discord.RespondEmbed(s, i, &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("Dictionary (%d)", len(entries)),
		Description: b.String(),
	})
}
