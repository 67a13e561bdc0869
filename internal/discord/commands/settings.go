package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/bwmarrin/discordgo"

	"github.com/kisaragi-dev/yomivox/internal/discord"
	"github.com/kisaragi-dev/yomivox/internal/store"
)

// SettingsCommands handles /set-voice and /config.
type SettingsCommands struct {
	profiles store.ProfileStore
	settings store.SettingsStore
	perms    *discord.PermissionChecker
	log      *slog.Logger
}

// NewSettingsCommands creates a SettingsCommands handler.
func NewSettingsCommands(profiles store.ProfileStore, settings store.SettingsStore, perms *discord.PermissionChecker, log *slog.Logger) *SettingsCommands {
	if log == nil {
		log = slog.Default()
	}
	return &SettingsCommands{profiles: profiles, settings: settings, perms: perms, log: log}
}

// toggleNames are the boolean guild settings reachable via /config set.
var toggleNames = []string{
	"read_vc_status", "read_mentions", "read_emoji", "add_suffix",
	"read_attachments", "skip_code_blocks", "skip_urls",
}

// Register registers the settings commands with the router.
func (sc *SettingsCommands) Register(router *discord.CommandRouter) {
	router.RegisterCommand("set-voice", sc.setVoiceDefinition(), sc.handleSetVoice)

	router.RegisterCommand("config", sc.configDefinition(), func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		discord.RespondEphemeral(s, i, "Please use a subcommand: `/config get`, `/config set`, `/config auto-join`.")
	})
	router.RegisterHandler("config/get", sc.handleConfigGet)
	router.RegisterHandler("config/set", sc.handleConfigSet)
	router.RegisterHandler("config/auto-join", sc.handleConfigAutoJoin)
}

func (sc *SettingsCommands) setVoiceDefinition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "set-voice",
		Description: "Set the voice used to read your messages",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Name:        "speaker",
				Description: "Engine style ID (see /speakers on the engine)",
				Type:        discordgo.ApplicationCommandOptionInteger,
				Required:    true,
			},
			{
				Name:        "speed",
				Description: fmt.Sprintf("Speaking rate multiplier (%.1f–%.1f)", store.MinSpeed, store.MaxSpeed),
				Type:        discordgo.ApplicationCommandOptionNumber,
			},
			{
				Name:        "pitch",
				Description: fmt.Sprintf("Pitch offset (%.2f–%.2f)", store.MinPitch, store.MaxPitch),
				Type:        discordgo.ApplicationCommandOptionNumber,
			},
		},
	}
}

func (sc *SettingsCommands) configDefinition() *discordgo.ApplicationCommand {
	nameChoices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(toggleNames)+1)
	for _, n := range toggleNames {
		nameChoices = append(nameChoices, &discordgo.ApplicationCommandOptionChoice{Name: n, Value: n})
	}
	nameChoices = append(nameChoices, &discordgo.ApplicationCommandOptionChoice{Name: "max_chars", Value: "max_chars"})

	return &discordgo.ApplicationCommand{
		Name:        "config",
		Description: "View or change this server's reading settings",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Name:        "get",
				Description: "Show the current settings",
				Type:        discordgo.ApplicationCommandOptionSubCommand,
			},
			{
				Name:        "set",
				Description: "Change a setting",
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Options: []*discordgo.ApplicationCommandOption{
					{
						Name:        "name",
						Description: "Setting to change",
						Type:        discordgo.ApplicationCommandOptionString,
						Required:    true,
						Choices:     nameChoices,
					},
					{
						Name:        "value",
						Description: "New value (on/off, or a number for max_chars)",
						Type:        discordgo.ApplicationCommandOptionString,
						Required:    true,
					},
				},
			},
			{
				Name:        "auto-join",
				Description: "Configure automatic joining",
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Options: []*discordgo.ApplicationCommandOption{
					{
						Name:        "enabled",
						Description: "Whether auto-join is active",
						Type:        discordgo.ApplicationCommandOptionBoolean,
						Required:    true,
					},
					{
						Name:        "voice-channel",
						Description: "Voice channel to watch",
						Type:        discordgo.ApplicationCommandOptionChannel,
						ChannelTypes: []discordgo.ChannelType{
							discordgo.ChannelTypeGuildVoice,
						},
					},
					{
						Name:        "text-channel",
						Description: "Text channel to read aloud after joining",
						Type:        discordgo.ApplicationCommandOptionChannel,
						ChannelTypes: []discordgo.ChannelType{
							discordgo.ChannelTypeGuildText,
						},
					},
				},
			},
		},
	}
}

func (sc *SettingsCommands) handleSetVoice(s *discordgo.Session, i *discordgo.InteractionCreate) {
	opts := optionMap(i.ApplicationCommandData().Options)

	profile := store.DefaultProfile(interactionUser(i))
	if profile.UserID == "" {
		discord.RespondEphemeral(s, i, "Could not identify you.")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if existing, err := sc.profiles.Profile(ctx, profile.UserID); err == nil {
		profile = existing
	}

	if opt, ok := opts["speaker"]; ok {
		profile.Speaker = int(opt.IntValue())
	}
	if opt, ok := opts["speed"]; ok {
		profile.Speed = clamp(opt.FloatValue(), store.MinSpeed, store.MaxSpeed)
	}
	if opt, ok := opts["pitch"]; ok {
		profile.Pitch = clamp(opt.FloatValue(), store.MinPitch, store.MaxPitch)
	}

	if err := sc.profiles.SetProfile(ctx, profile); err != nil {
		sc.log.Warn("failed to save voice profile", "user_id", profile.UserID, "err", err)
		discord.RespondEphemeral(s, i, "Could not save your voice profile.")
		return
	}
	discord.RespondEphemeral(s, i, fmt.Sprintf(
		"Voice set: speaker %d, speed %.2f, pitch %.2f.", profile.Speaker, profile.Speed, profile.Pitch))
}

func (sc *SettingsCommands) handleConfigGet(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	settings, err := sc.settings.Settings(ctx, i.GuildID)
	if err != nil {
		discord.RespondError(s, i, err)
		return
	}

	onOff := func(b bool) string {
		if b {
			return "on"
		}
		return "off"
	}
	autoJoin := onOff(settings.AutoJoin)
	if settings.AutoJoin && settings.AutoJoinVoiceChannelID != "" {
		autoJoin = fmt.Sprintf("on (<#%s> → <#%s>)",
			settings.AutoJoinVoiceChannelID, settings.AutoJoinTextChannelID)
	}

	discord.RespondEmbed(s, i, &discordgo.MessageEmbed{
		Title: "Reading settings",
		Fields: []*discordgo.MessageEmbedField{
			{Name: "max_chars", Value: strconv.Itoa(settings.MaxChars), Inline: true},
			{Name: "read_vc_status", Value: onOff(settings.ReadVCStatus), Inline: true},
			{Name: "read_mentions", Value: onOff(settings.ReadMentions), Inline: true},
			{Name: "read_emoji", Value: onOff(settings.ReadEmoji), Inline: true},
			{Name: "add_suffix", Value: onOff(settings.AddSuffix), Inline: true},
			{Name: "read_attachments", Value: onOff(settings.ReadAttachments), Inline: true},
			{Name: "skip_code_blocks", Value: onOff(settings.SkipCodeBlocks), Inline: true},
			{Name: "skip_urls", Value: onOff(settings.SkipURLs), Inline: true},
			{Name: "auto_join", Value: autoJoin, Inline: true},
		},
	})
}

func (sc *SettingsCommands) handleConfigSet(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !sc.perms.CanManage(i) {
		discord.RespondEphemeral(s, i, "You need the Manage Server permission to change settings.")
		return
	}

	opts := optionMap(i.ApplicationCommandData().Options[0].Options)
	name := opts["name"].StringValue()
	value := opts["value"].StringValue()

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	settings, err := sc.settings.Settings(ctx, i.GuildID)
	if err != nil {
		discord.RespondError(s, i, err)
		return
	}

	if err := applySetting(&settings, name, value); err != nil {
		discord.RespondEphemeral(s, i, err.Error())
		return
	}
	if err := sc.settings.SetSettings(ctx, settings); err != nil {
		sc.log.Warn("failed to save guild settings", "guild_id", i.GuildID, "err", err)
		discord.RespondEphemeral(s, i, "Could not save the settings.")
		return
	}
	discord.RespondEphemeral(s, i, fmt.Sprintf("Set %s to %s.", name, value))
}

func (sc *SettingsCommands) handleConfigAutoJoin(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !sc.perms.CanManage(i) {
		discord.RespondEphemeral(s, i, "You need the Manage Server permission to change settings.")
		return
	}

	opts := optionMap(i.ApplicationCommandData().Options[0].Options)

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	settings, err := sc.settings.Settings(ctx, i.GuildID)
	if err != nil {
		discord.RespondError(s, i, err)
		return
	}

	settings.AutoJoin = opts["enabled"].BoolValue()
	if opt, ok := opts["voice-channel"]; ok {
		settings.AutoJoinVoiceChannelID = opt.ChannelValue(nil).ID
	}
	if opt, ok := opts["text-channel"]; ok {
		settings.AutoJoinTextChannelID = opt.ChannelValue(nil).ID
	}
	if settings.AutoJoin && (settings.AutoJoinVoiceChannelID == "" || settings.AutoJoinTextChannelID == "") {
		discord.RespondEphemeral(s, i, "Auto-join needs both a voice channel and a text channel.")
		return
	}

	if err := sc.settings.SetSettings(ctx, settings); err != nil {
		sc.log.Warn("failed to save guild settings", "guild_id", i.GuildID, "err", err)
		discord.RespondEphemeral(s, i, "Could not save the settings.")
		return
	}
	if settings.AutoJoin {
		discord.RespondEphemeral(s, i, fmt.Sprintf(
			"Auto-join enabled: <#%s> → <#%s>.", settings.AutoJoinVoiceChannelID, settings.AutoJoinTextChannelID))
		return
	}
	discord.RespondEphemeral(s, i, "Auto-join disabled.")
}

// applySetting mutates one named field of settings from its string form.
func applySetting(settings *store.GuildSettings, name, value string) error {
	if name == "max_chars" {
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("max_chars needs a number, got %q", value)
		}
		if n < store.MinMaxChars || n > store.MaxMaxChars {
			return fmt.Errorf("max_chars must be between %d and %d", store.MinMaxChars, store.MaxMaxChars)
		}
		settings.MaxChars = n
		return nil
	}

	b, err := parseBool(value)
	if err != nil {
		return fmt.Errorf("%s needs on or off, got %q", name, value)
	}
	switch name {
	case "read_vc_status":
		settings.ReadVCStatus = b
	case "read_mentions":
		settings.ReadMentions = b
	case "read_emoji":
		settings.ReadEmoji = b
	case "add_suffix":
		settings.AddSuffix = b
	case "read_attachments":
		settings.ReadAttachments = b
	case "skip_code_blocks":
		settings.SkipCodeBlocks = b
	case "skip_urls":
		settings.SkipURLs = b
	default:
		return fmt.Errorf("unknown setting %q", name)
	}
	return nil
}

func parseBool(s string) (bool, error) {
	switch s {
	case "on", "true", "yes", "1":
		return true, nil
	case "off", "false", "no", "0":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean: %q", s)
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// optionMap indexes interaction options by name.
func optionMap(opts []*discordgo.ApplicationCommandInteractionDataOption) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	m := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(opts))
	for _, o := range opts {
		m[o.Name] = o
	}
	return m
}

// interactionUser returns the author's user ID.
func interactionUser(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}
