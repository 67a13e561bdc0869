// Package mock provides scriptable voice.Conn and voice.Dialer fakes for
// session engine tests.
package mock

import (
	"context"
	"sync"

	"github.com/kisaragi-dev/yomivox/internal/voice"
)

var (
	_ voice.Conn   = (*Conn)(nil)
	_ voice.Dialer = (*Dialer)(nil)
)

// Conn is a fake voice connection. Played clips are recorded; PlayFunc, when
// set, controls blocking and error behavior per clip.
type Conn struct {
	Channel string

	// PlayFunc, when non-nil, is invoked for every Play call.
	PlayFunc func(ctx context.Context, wavData []byte) error

	events chan voice.Event

	mu     sync.Mutex
	played [][]byte
	humans int
	closed bool
}

// NewConn creates a Conn for channelID with the given initial human count.
func NewConn(channelID string, humans int) *Conn {
	return &Conn{
		Channel: channelID,
		events:  make(chan voice.Event, 16),
		humans:  humans,
	}
}

func (c *Conn) Play(ctx context.Context, wavData []byte) error {
	c.mu.Lock()
	c.played = append(c.played, wavData)
	c.mu.Unlock()
	if c.PlayFunc != nil {
		return c.PlayFunc(ctx, wavData)
	}
	return nil
}

func (c *Conn) Events() <-chan voice.Event { return c.events }

func (c *Conn) HumanCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.humans
}

func (c *Conn) ChannelID() string { return c.Channel }

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
	return nil
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Played returns a snapshot of every clip passed to Play, in order.
func (c *Conn) Played() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.played))
	copy(out, c.played)
	return out
}

// SetHumans changes the reported human count.
func (c *Conn) SetHumans(n int) {
	c.mu.Lock()
	c.humans = n
	c.mu.Unlock()
}

// Emit delivers an event to the engine, as the real connection would on a
// gateway update.
func (c *Conn) Emit(ev voice.Event) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if !closed {
		c.events <- ev
	}
}

// Dialer hands out connections. DialFunc, when set, overrides the default
// behavior of returning a fresh Conn per call.
type Dialer struct {
	DialFunc func(ctx context.Context, guildID, channelID string) (voice.Conn, error)

	mu    sync.Mutex
	conns []*Conn
}

func (d *Dialer) Dial(ctx context.Context, guildID, channelID string) (voice.Conn, error) {
	if d.DialFunc != nil {
		return d.DialFunc(ctx, guildID, channelID)
	}
	c := NewConn(channelID, 1)
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

// Conns returns every connection handed out by the default Dial.
func (d *Dialer) Conns() []*Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Conn, len(d.conns))
	copy(out, d.conns)
	return out
}
