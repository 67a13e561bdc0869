// Package resilience provides the circuit breaker guarding the synthesis
// engine: a classic three-state breaker (closed → open → half-open) so a
// down engine is skipped fast instead of timing every request out.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrOpen = errors.New("resilience: circuit open")

// BreakerState is the breaker's operating mode.
type BreakerState int

const (
	// Closed forwards every call.
	Closed BreakerState = iota

	// Open rejects every call with [ErrOpen] until the cooldown elapses.
	Open

	// HalfOpen lets a few probe calls through; success closes the
	// breaker, any failure re-opens it.
	HalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero fields get defaults.
type BreakerConfig struct {
	// Name labels the breaker in logs.
	Name string

	// Threshold is the number of consecutive failures that opens the
	// breaker. Default 5.
	Threshold int

	// Cooldown is how long the breaker stays open before probing again.
	// Default 30s.
	Cooldown time.Duration

	// Probes is how many consecutive half-open successes close the
	// breaker. Default 2.
	Probes int
}

// Breaker is a three-state circuit breaker.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	probes    int
	log       *slog.Logger

	mu          sync.Mutex
	state       BreakerState
	failures    int // consecutive failures while closed
	successes   int // consecutive successes while half-open
	probesOut   int // probe calls currently admitted
	openedAt    time.Time
	lastFailure time.Time
}

// NewBreaker creates a Breaker from cfg.
func NewBreaker(cfg BreakerConfig, log *slog.Logger) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 2
	}
	if log == nil {
		log = slog.Default()
	}
	return &Breaker{
		name:      cfg.Name,
		threshold: cfg.Threshold,
		cooldown:  cfg.Cooldown,
		probes:    cfg.Probes,
		log:       log,
	}
}

// Do runs fn if the breaker admits the call, otherwise returns [ErrOpen]
// without invoking fn. fn's error is passed through unchanged.
func (b *Breaker) Do(fn func() error) error {
	probing, err := b.admit()
	if err != nil {
		return err
	}

	callErr := fn()
	b.settle(probing, callErr)
	return callErr
}

// admit decides whether a call may proceed and reports whether it counts as
// a half-open probe.
func (b *Breaker) admit() (probing bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if time.Since(b.openedAt) < b.cooldown {
			return false, ErrOpen
		}
		b.state = HalfOpen
		b.successes = 0
		b.probesOut = 0
		b.log.Info("circuit breaker probing", "name", b.name)
		fallthrough
	case HalfOpen:
		if b.probesOut >= b.probes {
			return false, ErrOpen
		}
		b.probesOut++
		return true, nil
	default:
		return false, nil
	}
}

// settle records the call outcome.
func (b *Breaker) settle(probing bool, callErr error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if callErr == nil {
		if probing {
			b.successes++
			if b.successes >= b.probes {
				b.state = Closed
				b.failures = 0
				b.log.Info("circuit breaker closed", "name", b.name)
			}
			return
		}
		b.failures = 0
		return
	}

	b.lastFailure = time.Now()
	if probing {
		b.open("probe failed")
		return
	}
	b.failures++
	if b.failures >= b.threshold {
		b.open("failure threshold reached")
	}
}

// open must be called with b.mu held.
func (b *Breaker) open(cause string) {
	if b.state != Open {
		b.log.Warn("circuit breaker opened",
			"name", b.name, "cause", cause, "consecutive_failures", b.failures)
	}
	b.state = Open
	b.openedAt = time.Now()
	b.failures = b.threshold
}

// State returns the breaker's current mode. An expired cooldown reads as
// HalfOpen; the real transition happens on the next Do.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && time.Since(b.openedAt) >= b.cooldown {
		return HalfOpen
	}
	return b.state
}
