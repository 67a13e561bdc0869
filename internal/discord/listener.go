package discord

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/kisaragi-dev/yomivox/internal/dict"
	"github.com/kisaragi-dev/yomivox/internal/engine"
	"github.com/kisaragi-dev/yomivox/internal/observe"
	"github.com/kisaragi-dev/yomivox/internal/store"
	"github.com/kisaragi-dev/yomivox/internal/textproc"
	"github.com/kisaragi-dev/yomivox/pkg/voicevox"
)

// storeTimeout bounds settings and profile lookups in the message path.
const storeTimeout = 3 * time.Second

// nameSuffix is the honorific appended to spoken user names when the
// guild's add_suffix setting is on.
const nameSuffix = "さん"

// Listener turns chat messages in a session's bound text channel into
// read-aloud requests.
type Listener struct {
	sessions *engine.Registry
	settings store.SettingsStore
	profiles store.ProfileStore
	resolver *dict.Resolver
	norm     *textproc.Normalizer
	metrics  *observe.Metrics
	log      *slog.Logger
}

// NewListener creates a Listener.
func NewListener(
	sessions *engine.Registry,
	settings store.SettingsStore,
	profiles store.ProfileStore,
	resolver *dict.Resolver,
	norm *textproc.Normalizer,
	metrics *observe.Metrics,
	log *slog.Logger,
) *Listener {
	if log == nil {
		log = slog.Default()
	}
	return &Listener{
		sessions: sessions,
		settings: settings,
		profiles: profiles,
		resolver: resolver,
		norm:     norm,
		metrics:  metrics,
		log:      log,
	}
}

// HandleMessage is the MessageCreate handler. It ignores everything outside
// an active session's bound text channel, applies the guild's reading rules
// and dictionary, and enqueues the result for synthesis.
func (l *Listener) HandleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}

	sess, ok := l.sessions.Get(m.GuildID)
	if !ok || sess.State() == engine.StateDisconnected {
		return
	}
	if m.ChannelID != sess.TextChannelID() {
		return
	}

	if isSkipShortcut(m.Content) {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := sess.Skip(ctx); err != nil {
			l.log.Debug("skip shortcut ignored", "guild_id", m.GuildID, "err", err)
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	settings, err := l.settings.Settings(ctx, m.GuildID)
	if err != nil {
		l.log.Warn("failed to load guild settings, using defaults",
			"guild_id", m.GuildID, "err", err)
		settings = store.DefaultSettings(m.GuildID)
	}

	text := l.norm.Normalize(textproc.Message{
		Content:     m.Content,
		Mentions:    mentionNames(s, m, settings.AddSuffix),
		Attachments: len(m.Attachments),
	}, rulesFor(settings))
	if text == "" {
		return
	}
	text = l.resolver.Apply(ctx, m.GuildID, text)

	profile, err := l.profiles.Profile(ctx, m.Author.ID)
	if err != nil {
		l.log.Warn("failed to load voice profile, using default",
			"user_id", m.Author.ID, "err", err)
		profile = store.DefaultProfile(m.Author.ID)
	}

	req, accepted := sess.Enqueue(m.Author.ID, text, voicevox.Params{
		Speaker: profile.Speaker,
		Speed:   profile.Speed,
		Pitch:   profile.Pitch,
	})
	if !accepted {
		l.log.Debug("message rejected, session not connected", "guild_id", m.GuildID)
		return
	}

	if l.metrics != nil {
		l.metrics.MessagesRead.Add(ctx, 1, observe.GuildAttr(m.GuildID))
	}
	l.log.Debug("message enqueued",
		"guild_id", m.GuildID, "request_id", req.ID, "chars", len([]rune(text)))
}

// isSkipShortcut reports whether content is the one-letter skip command.
func isSkipShortcut(content string) bool {
	c := strings.TrimSpace(content)
	return c == "s" || c == "S"
}

// rulesFor maps guild settings to normalizer rules.
func rulesFor(s store.GuildSettings) textproc.Rules {
	return textproc.Rules{
		MaxChars:        s.MaxChars,
		ReadMentions:    s.ReadMentions,
		ReadEmoji:       s.ReadEmoji,
		SkipCodeBlocks:  s.SkipCodeBlocks,
		SkipURLs:        s.SkipURLs,
		ReadAttachments: s.ReadAttachments,
	}
}

// mentionNames maps mentioned user IDs to speakable display names.
func mentionNames(s *discordgo.Session, m *discordgo.MessageCreate, addSuffix bool) map[string]string {
	if len(m.Mentions) == 0 {
		return nil
	}
	names := make(map[string]string, len(m.Mentions))
	for _, u := range m.Mentions {
		names[u.ID] = spokenName(displayName(s, m.GuildID, u), addSuffix)
	}
	return names
}

// spokenName appends the honorific when the guild asks for it.
func spokenName(name string, addSuffix bool) string {
	if addSuffix && name != "" {
		return name + nameSuffix
	}
	return name
}

// displayName resolves a user's guild nickname, falling back to the global
// display name and finally the username.
func displayName(s *discordgo.Session, guildID string, u *discordgo.User) string {
	if s != nil {
		if member, err := s.State.Member(guildID, u.ID); err == nil && member.Nick != "" {
			return member.Nick
		}
	}
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}
