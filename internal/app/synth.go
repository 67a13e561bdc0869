package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/kisaragi-dev/yomivox/internal/engine"
	"github.com/kisaragi-dev/yomivox/internal/resilience"
	"github.com/kisaragi-dev/yomivox/pkg/voicevox"
)

// guardedSynth wraps a synthesizer with the circuit breaker. Only
// availability failures trip the breaker; invalid-input errors and caller
// cancellations pass through without counting against the engine.
type guardedSynth struct {
	inner   engine.Synthesizer
	breaker *resilience.Breaker
}

var _ engine.Synthesizer = (*guardedSynth)(nil)

func newGuardedSynth(inner engine.Synthesizer, breaker *resilience.Breaker) *guardedSynth {
	return &guardedSynth{inner: inner, breaker: breaker}
}

func (g *guardedSynth) Synthesize(ctx context.Context, text string, p voicevox.Params) ([]byte, error) {
	var clip []byte
	var synthErr error

	err := g.breaker.Do(func() error {
		clip, synthErr = g.inner.Synthesize(ctx, text, p)
		if errors.Is(synthErr, voicevox.ErrUnavailable) && ctx.Err() == nil {
			return synthErr
		}
		return nil
	})
	if errors.Is(err, resilience.ErrOpen) {
		return nil, fmt.Errorf("%w: synthesis suspended", voicevox.ErrUnavailable)
	}
	if synthErr != nil {
		return nil, synthErr
	}
	return clip, nil
}
