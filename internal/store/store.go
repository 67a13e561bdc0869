// Package store defines the persistence boundary: voice profiles, guild
// settings, and persisted voice sessions. Implementations live in the
// postgres and memstore subpackages; dictionary persistence satisfies
// dict.Store from the same backends.
package store

import "context"

// VoiceProfile is a user's synthesis preference, applied at enqueue time.
type VoiceProfile struct {
	UserID string

	// Speaker is the engine style ID.
	Speaker int

	// Speed is the speaking-rate multiplier.
	Speed float64

	// Pitch is the pitch offset.
	Pitch float64
}

// DefaultProfile is the profile used for users who never ran /set-voice.
func DefaultProfile(userID string) VoiceProfile {
	return VoiceProfile{UserID: userID, Speaker: 1, Speed: 1.0, Pitch: 0.0}
}

// Profile bounds enforced at the command boundary.
const (
	MinSpeed = 0.5
	MaxSpeed = 2.0
	MinPitch = -0.15
	MaxPitch = 0.15
)

// GuildSettings are the per-guild reading toggles.
type GuildSettings struct {
	GuildID string `json:"-" yaml:"-"`

	// MaxChars caps utterance length in runes.
	MaxChars int `json:"max_chars"`

	// ReadVCStatus announces voice-channel joins and leaves.
	ReadVCStatus bool `json:"read_vc_status"`

	// ReadMentions speaks mentioned users by name.
	ReadMentions bool `json:"read_mentions"`

	// ReadEmoji speaks custom emoji by name and keeps unicode emoji.
	ReadEmoji bool `json:"read_emoji"`

	// AddSuffix appends an honorific to spoken user names.
	AddSuffix bool `json:"add_suffix"`

	// ReadAttachments appends an attachment-count utterance.
	ReadAttachments bool `json:"read_attachments"`

	// SkipCodeBlocks elides code as "(code)".
	SkipCodeBlocks bool `json:"skip_code_blocks"`

	// SkipURLs elides URLs as "(URL)".
	SkipURLs bool `json:"skip_urls"`

	// AutoJoin connects automatically when the configured voice channel
	// gains its first human member.
	AutoJoin bool `json:"auto_join"`

	// AutoJoinVoiceChannelID is the watched voice channel.
	AutoJoinVoiceChannelID string `json:"auto_join_voice_channel_id"`

	// AutoJoinTextChannelID is the text channel read aloud after an
	// automatic join.
	AutoJoinTextChannelID string `json:"auto_join_text_channel_id"`
}

// MaxChars bounds enforced at the command boundary.
const (
	MinMaxChars     = 10
	MaxMaxChars     = 500
	DefaultMaxChars = 50
)

// DefaultSettings are the settings of a guild that never configured anything.
func DefaultSettings(guildID string) GuildSettings {
	return GuildSettings{
		GuildID:         guildID,
		MaxChars:        DefaultMaxChars,
		ReadVCStatus:    true,
		ReadMentions:    true,
		ReadEmoji:       false,
		AddSuffix:       false,
		ReadAttachments: true,
		SkipCodeBlocks:  true,
		SkipURLs:        true,
	}
}

// SessionRecord is a persisted voice connection, replayed at startup so the
// bot rejoins channels it was reading before a restart.
type SessionRecord struct {
	GuildID        string
	VoiceChannelID string
	TextChannelID  string
}

// ProfileStore persists per-user voice profiles.
type ProfileStore interface {
	// Profile returns the user's profile, or the default profile when the
	// user never set one.
	Profile(ctx context.Context, userID string) (VoiceProfile, error)
	SetProfile(ctx context.Context, p VoiceProfile) error
}

// SettingsStore persists per-guild settings.
type SettingsStore interface {
	// Settings returns the guild's settings, or defaults when the guild
	// never configured anything.
	Settings(ctx context.Context, guildID string) (GuildSettings, error)
	SetSettings(ctx context.Context, s GuildSettings) error
}

// SessionStore persists active voice sessions for startup restore.
type SessionStore interface {
	Sessions(ctx context.Context) ([]SessionRecord, error)
	SaveSession(ctx context.Context, rec SessionRecord) error
	DeleteSession(ctx context.Context, guildID string) error
}
