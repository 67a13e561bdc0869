package voice

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"
	"layeh.com/gopus"
)

var _ Dialer = (*DiscordDialer)(nil)

const eventBuffer = 16

// DiscordDialer joins Discord voice channels over an active gateway session.
type DiscordDialer struct {
	session *discordgo.Session
	log     *slog.Logger
}

// NewDiscordDialer creates a Dialer over the given session. The session is
// owned by the bot layer; the dialer only borrows it.
func NewDiscordDialer(session *discordgo.Session, log *slog.Logger) *DiscordDialer {
	if log == nil {
		log = slog.Default()
	}
	return &DiscordDialer{session: session, log: log}
}

// Dial implements [Dialer]. mute=false (we send audio), deaf=true (we never
// consume incoming audio).
func (d *DiscordDialer) Dial(ctx context.Context, guildID, channelID string) (Conn, error) {
	type result struct {
		vc  *discordgo.VoiceConnection
		err error
	}
	ch := make(chan result, 1)
	go func() {
		vc, err := d.session.ChannelVoiceJoin(guildID, channelID, false, true)
		ch <- result{vc: vc, err: err}
	}()

	select {
	case <-ctx.Done():
		// The join may still complete in the background; tear it down so
		// the guild never ends up with a stray connection.
		go func() {
			if r := <-ch; r.err == nil && r.vc != nil {
				_ = r.vc.Disconnect()
			}
		}()
		return nil, fmt.Errorf("voice: join channel %q: %w", channelID, ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("voice: join channel %q: %w", channelID, r.err)
		}
		return newDiscordConn(r.vc, d.session, guildID, channelID, d.log), nil
	}
}

var _ Conn = (*discordConn)(nil)

// discordConn streams clips over a discordgo voice connection. Opus packet
// pacing is handled by discordgo's sender; Play only has to keep OpusSend
// fed with complete 20 ms frames.
type discordConn struct {
	vc      *discordgo.VoiceConnection
	session *discordgo.Session
	guildID string
	channel string
	log     *slog.Logger

	events chan Event

	mu     sync.Mutex
	humans map[string]string // userID -> username, non-bot members only

	done          chan struct{}
	closeOnce     sync.Once
	removeHandler func()
}

func newDiscordConn(vc *discordgo.VoiceConnection, session *discordgo.Session, guildID, channelID string, log *slog.Logger) *discordConn {
	c := &discordConn{
		vc:      vc,
		session: session,
		guildID: guildID,
		channel: channelID,
		log:     log,
		events:  make(chan Event, eventBuffer),
		humans:  make(map[string]string),
		done:    make(chan struct{}),
	}
	c.seedParticipants()
	c.removeHandler = session.AddHandler(c.handleVoiceStateUpdate)
	return c
}

// seedParticipants fills the participant set from gateway state, so
// HumanCount is correct before the first VoiceStateUpdate arrives.
func (c *discordConn) seedParticipants() {
	guild, err := c.session.State.Guild(c.guildID)
	if err != nil {
		return
	}
	botID := ""
	if c.session.State.User != nil {
		botID = c.session.State.User.ID
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, vs := range guild.VoiceStates {
		if vs.ChannelID != c.channel || vs.UserID == botID {
			continue
		}
		name := vs.UserID
		if member, err := c.session.State.Member(c.guildID, vs.UserID); err == nil && member.User != nil {
			if member.User.Bot {
				continue
			}
			name = member.User.Username
		}
		c.humans[vs.UserID] = name
	}
}

// Play implements [Conn]. The clip is decoded, converted to 48 kHz stereo,
// and streamed as Opus frames. Trailing samples shorter than one frame are
// zero-padded so the encoder always sees full frames.
func (c *discordConn) Play(ctx context.Context, wavData []byte) error {
	clip, err := decodeWAV(wavData)
	if err != nil {
		return err
	}
	pcm := toPlaybackPCM(clip)

	enc, err := gopus.NewEncoder(playbackRate, playbackChannels, gopus.Audio)
	if err != nil {
		return fmt.Errorf("voice: create opus encoder: %w", err)
	}

	c.setSpeaking(true)
	defer c.setSpeaking(false)

	for off := 0; off < len(pcm); off += frameBytes {
		end := off + frameBytes
		frame := pcm[off:min(end, len(pcm))]
		if len(frame) < frameBytes {
			padded := make([]byte, frameBytes)
			copy(padded, frame)
			frame = padded
		}

		packet, err := enc.Encode(int16sFromBytes(frame), frameSamples, frameBytes)
		if err != nil {
			return fmt.Errorf("voice: opus encode: %w", err)
		}

		select {
		case c.vc.OpusSend <- packet:
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return fmt.Errorf("voice: connection closed during playback")
		}
	}
	return nil
}

func (c *discordConn) Events() <-chan Event { return c.events }

func (c *discordConn) HumanCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.humans)
}

func (c *discordConn) ChannelID() string { return c.channel }

// Close implements [Conn]. Safe to call more than once.
func (c *discordConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if c.removeHandler != nil {
			c.removeHandler()
		}
		err = c.vc.Disconnect()

		// The handler is deregistered, but an emit may still be in
		// flight; the mutex orders it before the close.
		c.mu.Lock()
		close(c.events)
		c.mu.Unlock()
	})
	return err
}

// handleVoiceStateUpdate tracks humans entering and leaving the connected
// channel, and detects the bot itself being moved or kicked.
func (c *discordConn) handleVoiceStateUpdate(_ *discordgo.Session, vsu *discordgo.VoiceStateUpdate) {
	if vsu.GuildID != c.guildID {
		return
	}

	botID := ""
	if c.session.State.User != nil {
		botID = c.session.State.User.ID
	}
	if vsu.UserID == botID {
		// Someone moved or disconnected the bot out from under us.
		if vsu.ChannelID != c.channel {
			c.emit(Event{Type: Disconnected})
		}
		return
	}
	if vsu.Member != nil && vsu.Member.User != nil && vsu.Member.User.Bot {
		return
	}

	username := vsu.UserID
	if vsu.Member != nil && vsu.Member.User != nil {
		username = vsu.Member.User.Username
	}

	wasHere := vsu.BeforeUpdate != nil && vsu.BeforeUpdate.ChannelID == c.channel
	isHere := vsu.ChannelID == c.channel

	switch {
	case isHere && !wasHere:
		c.mu.Lock()
		c.humans[vsu.UserID] = username
		c.mu.Unlock()
		c.emit(Event{Type: ParticipantJoin, UserID: vsu.UserID, Username: username})
	case wasHere && !isHere:
		c.mu.Lock()
		delete(c.humans, vsu.UserID)
		c.mu.Unlock()
		c.emit(Event{Type: ParticipantLeave, UserID: vsu.UserID, Username: username})
	}
}

// emit delivers an event without ever blocking the gateway handler.
func (c *discordConn) emit(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.events <- ev:
	default:
		c.log.Warn("voice event dropped, consumer too slow",
			"guild_id", c.guildID, "event", ev.Type)
	}
}

func (c *discordConn) setSpeaking(b bool) {
	if err := c.vc.Speaking(b); err != nil {
		c.log.Warn("speaking notification failed", "guild_id", c.guildID, "err", err)
	}
}
