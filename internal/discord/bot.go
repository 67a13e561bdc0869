// Package discord provides the Discord gateway layer for yomivox. It owns
// the discordgo.Session lifecycle, routes slash command interactions to
// registered handlers, and feeds chat messages and voice-state changes into
// the read-aloud engine.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// Config holds Discord bot configuration.
type Config struct {
	// Token is the Discord bot token (e.g., "MTIz...").
	Token string

	// OwnerID is the user permitted to run owner-only commands.
	OwnerID string

	// Status is the presence text shown under the bot's name.
	Status string
}

// Bot owns the Discord gateway connection and routes interactions
// to registered command handlers.
type Bot struct {
	mu        sync.RWMutex
	session   *discordgo.Session
	router    *CommandRouter
	perms     *PermissionChecker
	status    string
	commands  []*discordgo.ApplicationCommand
	closeOnce sync.Once
}

// New creates a Bot, connects to Discord, and registers the interaction handler.
func New(_ context.Context, cfg Config) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsMessageContent
	session.State.TrackVoice = true
	session.State.TrackMembers = true

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("discord: open session: %w", err)
	}

	b := &Bot{
		session: session,
		router:  NewCommandRouter(),
		perms:   NewPermissionChecker(cfg.OwnerID),
		status:  cfg.Status,
	}

	session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		b.router.Handle(s, i)
	})

	return b, nil
}

// Session returns the underlying discordgo session. Used by subsystems that
// need direct Discord API access (e.g., the voice dialer).
func (b *Bot) Session() *discordgo.Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.session
}

// Router returns the command router for registering handlers.
func (b *Bot) Router() *CommandRouter {
	return b.router
}

// Permissions returns the permission checker.
func (b *Bot) Permissions() *PermissionChecker {
	return b.perms
}

// AddMessageHandler registers a handler for message create events.
func (b *Bot) AddMessageHandler(h func(s *discordgo.Session, m *discordgo.MessageCreate)) {
	b.session.AddHandler(h)
}

// AddVoiceStateHandler registers a handler for voice state update events.
func (b *Bot) AddVoiceStateHandler(h func(s *discordgo.Session, vs *discordgo.VoiceStateUpdate)) {
	b.session.AddHandler(h)
}

// AddGuildDeleteHandler registers a handler for guild delete events.
func (b *Bot) AddGuildDeleteHandler(h func(s *discordgo.Session, g *discordgo.GuildDelete)) {
	b.session.AddHandler(h)
}

// SyncCommands overwrites the bot's global slash commands with the router's
// current definitions.
func (b *Bot) SyncCommands() error {
	b.mu.RLock()
	appID := b.session.State.User.ID
	b.mu.RUnlock()

	cmds := b.router.ApplicationCommands()
	registered, err := b.session.ApplicationCommandBulkOverwrite(appID, "", cmds)
	if err != nil {
		return fmt.Errorf("discord: register commands: %w", err)
	}

	b.mu.Lock()
	b.commands = registered
	b.mu.Unlock()
	slog.Info("discord commands registered", "count", len(registered))
	return nil
}

// Run registers slash commands with the Discord API, sets the presence
// status, and blocks until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.SyncCommands(); err != nil {
		return err
	}

	if b.status != "" {
		if err := b.session.UpdateGameStatus(0, b.status); err != nil {
			slog.Warn("discord: failed to set status", "err", err)
		}
	}

	<-ctx.Done()
	return ctx.Err()
}

// Close disconnects from Discord.
func (b *Bot) Close() error {
	var closeErr error
	b.closeOnce.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if b.session != nil {
			if err := b.session.Close(); err != nil {
				closeErr = fmt.Errorf("discord: close session: %w", err)
			}
		}
		slog.Info("discord bot closed")
	})
	return closeErr
}
