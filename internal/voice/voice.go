// Package voice is the streaming boundary to voice channels. A Conn plays
// whole synthesized clips sequentially; everything above it (queueing,
// ordering, look-ahead) lives in the session engine.
package voice

import "context"

// EventType classifies connection events.
type EventType int

const (
	// ParticipantJoin fires when a human enters the connected channel.
	ParticipantJoin EventType = iota

	// ParticipantLeave fires when a human leaves the connected channel.
	ParticipantLeave

	// Disconnected fires when the connection is lost for any reason other
	// than a local Close.
	Disconnected
)

// Event is a connection-level occurrence delivered via [Conn.Events].
type Event struct {
	Type     EventType
	UserID   string
	Username string
}

// Conn is one live voice connection.
//
// Play is sequential by contract: the engine never issues a second Play
// before the first returns. Implementations stream the clip to completion
// and return, or return early with ctx's error when cancelled.
type Conn interface {
	// Play streams a WAV clip to the channel, blocking until the clip has
	// been fully transmitted or ctx is cancelled.
	Play(ctx context.Context, wavData []byte) error

	// Events returns the connection's event stream. The channel is closed
	// when the connection is torn down.
	Events() <-chan Event

	// HumanCount reports the number of non-bot members currently in the
	// connected channel.
	HumanCount() int

	// ChannelID is the connected voice channel.
	ChannelID() string

	// Close tears the connection down. Safe to call more than once.
	Close() error
}

// Dialer establishes voice connections.
type Dialer interface {
	// Dial joins the guild's voice channel. ctx bounds connection setup
	// only; the returned Conn lives until Close.
	Dial(ctx context.Context, guildID, channelID string) (Conn, error)
}
