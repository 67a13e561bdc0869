// Package engine implements per-guild read-aloud sessions: a bounded speech
// queue, one-request synthesis look-ahead, and strict enqueue-order playback
// over a single voice connection per guild.
package engine

import (
	"context"
	"time"

	"github.com/kisaragi-dev/yomivox/pkg/voicevox"
)

// Synthesizer turns text into a WAV clip. Satisfied by *voicevox.Client and
// by decorators layered on top of it.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, p voicevox.Params) ([]byte, error)
}

// Request is one utterance waiting to be spoken. Voice parameters are
// resolved by the caller before enqueueing and never re-read afterwards, so
// a profile change mid-queue cannot alter an already-queued request.
type Request struct {
	// ID identifies the request in logs.
	ID string

	GuildID string
	UserID  string

	// Text is the fully normalized, dictionary-substituted utterance.
	Text string

	Params voicevox.Params

	// Seq is the per-guild enqueue sequence. Playback follows Seq order.
	Seq uint64

	EnqueuedAt time.Time
}
