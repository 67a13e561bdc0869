package resilience

import (
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func newTestBreaker(threshold int, cooldown time.Duration) *Breaker {
	return NewBreaker(BreakerConfig{
		Name:      "test",
		Threshold: threshold,
		Cooldown:  cooldown,
		Probes:    2,
	}, nil)
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	t.Parallel()

	b := newTestBreaker(3, time.Minute)

	for range 3 {
		if err := b.Do(func() error { return errBoom }); !errors.Is(err, errBoom) {
			t.Fatalf("Do = %v, want errBoom", err)
		}
	}
	if b.State() != Open {
		t.Fatalf("state = %v, want open", b.State())
	}

	called := false
	err := b.Do(func() error { called = true; return nil })
	if !errors.Is(err, ErrOpen) {
		t.Errorf("Do while open = %v, want ErrOpen", err)
	}
	if called {
		t.Error("fn invoked while breaker open")
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	b := newTestBreaker(3, time.Minute)

	b.Do(func() error { return errBoom })
	b.Do(func() error { return errBoom })
	b.Do(func() error { return nil })
	b.Do(func() error { return errBoom })
	b.Do(func() error { return errBoom })

	if b.State() != Closed {
		t.Errorf("state = %v, want closed (streak was broken)", b.State())
	}
}

func TestBreakerClosesAfterSuccessfulProbes(t *testing.T) {
	t.Parallel()

	b := newTestBreaker(1, 10*time.Millisecond)

	b.Do(func() error { return errBoom })
	if b.State() != Open {
		t.Fatalf("state = %v, want open", b.State())
	}

	time.Sleep(20 * time.Millisecond)
	if b.State() != HalfOpen {
		t.Fatalf("state = %v, want half-open after cooldown", b.State())
	}

	// Two successful probes close the breaker.
	for range 2 {
		if err := b.Do(func() error { return nil }); err != nil {
			t.Fatalf("probe Do = %v", err)
		}
	}
	if b.State() != Closed {
		t.Errorf("state = %v, want closed after probes", b.State())
	}
}

func TestBreakerReopensOnProbeFailure(t *testing.T) {
	t.Parallel()

	b := newTestBreaker(1, 10*time.Millisecond)

	b.Do(func() error { return errBoom })
	time.Sleep(20 * time.Millisecond)

	if err := b.Do(func() error { return errBoom }); !errors.Is(err, errBoom) {
		t.Fatalf("probe Do = %v, want errBoom", err)
	}
	if b.State() != Open {
		t.Errorf("state = %v, want re-opened", b.State())
	}
}
