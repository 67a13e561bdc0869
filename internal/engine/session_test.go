package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kisaragi-dev/yomivox/internal/voice"
	"github.com/kisaragi-dev/yomivox/internal/voice/mock"
	"github.com/kisaragi-dev/yomivox/pkg/voicevox"
)

// fakeSynth renders "wav:"+text instantly, with optional per-text failures
// and an optional gate that blocks until release or cancellation.
type fakeSynth struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
	gate  chan struct{} // when non-nil, Synthesize blocks on it
}

func (f *fakeSynth) Synthesize(ctx context.Context, text string, _ voicevox.Params) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, text)
	gate := f.gate
	err := f.fail[text]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return []byte("wav:" + text), nil
}

func (f *fakeSynth) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func testConfig() Config {
	return Config{QueueDepth: 20, LeaveGrace: 10 * time.Second, ConnectTimeout: time.Second}
}

// newTestSession wires a session to a single mock connection.
func newTestSession(t *testing.T, synth Synthesizer, cfg Config, hooks Hooks) (*Session, *mock.Conn) {
	t.Helper()
	conn := mock.NewConn("vc-1", 1)
	dialer := &mock.Dialer{
		DialFunc: func(_ context.Context, _, _ string) (voice.Conn, error) {
			return conn, nil
		},
	}
	s := NewSession("g1", synth, dialer, cfg, hooks, nil)
	t.Cleanup(s.Close)
	return s, conn
}

func playedTexts(conn *mock.Conn) []string {
	var out []string
	for _, clip := range conn.Played() {
		out = append(out, strings.TrimPrefix(string(clip), "wav:"))
	}
	return out
}

func TestSessionPlaysInEnqueueOrder(t *testing.T) {
	t.Parallel()

	synth := &fakeSynth{}
	s, conn := newTestSession(t, synth, testConfig(), Hooks{})

	if err := s.Join(context.Background(), "vc-1", "tc-1"); err != nil {
		t.Fatalf("Join: %v", err)
	}

	texts := []string{"one", "two", "three", "four", "five"}
	for _, txt := range texts {
		if _, ok := s.Enqueue("u1", txt, voicevox.Params{Speaker: 1, Speed: 1}); !ok {
			t.Fatalf("Enqueue(%q) rejected", txt)
		}
	}

	waitFor(t, func() bool { return len(conn.Played()) == len(texts) }, "all clips played")

	got := playedTexts(conn)
	for i, want := range texts {
		if got[i] != want {
			t.Fatalf("playback order = %v, want %v", got, texts)
		}
	}
	waitFor(t, func() bool { return s.State() == StateConnected }, "idle after queue drained")
}

func TestSessionDropsOldestQueuedWhenFull(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var droppedMu sync.Mutex
	var dropped []string

	synth := &fakeSynth{}
	cfg := testConfig()
	cfg.QueueDepth = 2

	s, conn := newTestSession(t, synth, cfg, Hooks{
		OnDropped: func(_ string, req Request) {
			droppedMu.Lock()
			dropped = append(dropped, req.Text)
			droppedMu.Unlock()
		},
	})
	conn.PlayFunc = func(ctx context.Context, _ []byte) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := s.Join(context.Background(), "vc-1", "tc-1"); err != nil {
		t.Fatalf("Join: %v", err)
	}

	// "a" starts playing and blocks; the queue then holds exactly B=2.
	s.Enqueue("u1", "a", voicevox.Params{})
	waitFor(t, func() bool { return s.State() == StatePlaying }, "first clip playing")

	s.Enqueue("u1", "b", voicevox.Params{})
	s.Enqueue("u1", "c", voicevox.Params{})
	waitFor(t, func() bool { return s.QueueLen() == 2 }, "queue at capacity")

	// B+1th queued request drops the oldest queued ("b"), not the playing
	// request and not the newcomer.
	s.Enqueue("u1", "d", voicevox.Params{})
	waitFor(t, func() bool { return s.QueueLen() == 2 }, "queue back at capacity")

	close(release)
	waitFor(t, func() bool { return len(conn.Played()) == 3 }, "remaining clips played")

	if got := playedTexts(conn); got[0] != "a" || got[1] != "c" || got[2] != "d" {
		t.Errorf("played = %v, want [a c d]", got)
	}
	droppedMu.Lock()
	defer droppedMu.Unlock()
	if len(dropped) != 1 || dropped[0] != "b" {
		t.Errorf("dropped = %v, want [b]", dropped)
	}
}

func TestSessionLeaveDiscardsQueueAndCancelsSynthesis(t *testing.T) {
	t.Parallel()

	synth := &fakeSynth{gate: make(chan struct{})}
	s, conn := newTestSession(t, synth, testConfig(), Hooks{})

	if err := s.Join(context.Background(), "vc-1", "tc-1"); err != nil {
		t.Fatalf("Join: %v", err)
	}

	s.Enqueue("u1", "stuck", voicevox.Params{})
	s.Enqueue("u1", "queued", voicevox.Params{})
	waitFor(t, func() bool { return synth.callCount() == 1 }, "synthesis in flight")

	if err := s.Leave(context.Background()); err != nil {
		t.Fatalf("Leave: %v", err)
	}

	if s.State() != StateDisconnected {
		t.Errorf("state = %v, want disconnected", s.State())
	}
	if s.QueueLen() != 0 {
		t.Errorf("queue len = %d, want 0", s.QueueLen())
	}
	if !conn.Closed() {
		t.Error("connection not closed on leave")
	}
	if len(conn.Played()) != 0 {
		t.Errorf("played %d clips after leave, want 0", len(conn.Played()))
	}

	// A completed-but-discarded synthesis must never surface later.
	if _, ok := s.Enqueue("u1", "late", voicevox.Params{}); ok {
		t.Error("Enqueue accepted while disconnected")
	}
}

func TestSessionSynthesisFailureSkipsOneRequest(t *testing.T) {
	t.Parallel()

	var errCount int
	var errMu sync.Mutex

	synth := &fakeSynth{fail: map[string]error{"bad": voicevox.ErrUnavailable}}
	s, conn := newTestSession(t, synth, testConfig(), Hooks{
		OnSynthesisError: func(string, error) {
			errMu.Lock()
			errCount++
			errMu.Unlock()
		},
	})

	if err := s.Join(context.Background(), "vc-1", "tc-1"); err != nil {
		t.Fatalf("Join: %v", err)
	}

	s.Enqueue("u1", "good1", voicevox.Params{})
	s.Enqueue("u1", "bad", voicevox.Params{})
	s.Enqueue("u1", "good2", voicevox.Params{})

	waitFor(t, func() bool { return len(conn.Played()) == 2 }, "surviving clips played")

	if got := playedTexts(conn); got[0] != "good1" || got[1] != "good2" {
		t.Errorf("played = %v, want [good1 good2]", got)
	}
	if s.State() != StateConnected {
		t.Errorf("state = %v, want connected after failure", s.State())
	}
	errMu.Lock()
	defer errMu.Unlock()
	if errCount != 1 {
		t.Errorf("synthesis error hook fired %d times, want 1", errCount)
	}
}

func TestSessionRejectsSecondJoin(t *testing.T) {
	t.Parallel()

	s, _ := newTestSession(t, &fakeSynth{}, testConfig(), Hooks{})

	if err := s.Join(context.Background(), "vc-1", "tc-1"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := s.Join(context.Background(), "vc-2", "tc-2"); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("second Join err = %v, want ErrAlreadyConnected", err)
	}
	// The original binding survives the rejected join.
	if s.VoiceChannelID() != "vc-1" || s.TextChannelID() != "tc-1" {
		t.Errorf("binding = %s/%s, want vc-1/tc-1", s.VoiceChannelID(), s.TextChannelID())
	}
}

func TestSessionLeaveWhenDisconnected(t *testing.T) {
	t.Parallel()

	s, _ := newTestSession(t, &fakeSynth{}, testConfig(), Hooks{})
	if err := s.Leave(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Leave err = %v, want ErrNotConnected", err)
	}
}

func TestSessionAutoLeavesEmptyChannelAfterGrace(t *testing.T) {
	t.Parallel()

	var reasonMu sync.Mutex
	var reason DisconnectReason

	cfg := testConfig()
	cfg.LeaveGrace = 50 * time.Millisecond

	s, conn := newTestSession(t, &fakeSynth{}, cfg, Hooks{
		OnDisconnected: func(_ string, r DisconnectReason) {
			reasonMu.Lock()
			reason = r
			reasonMu.Unlock()
		},
	})

	if err := s.Join(context.Background(), "vc-1", "tc-1"); err != nil {
		t.Fatalf("Join: %v", err)
	}

	conn.SetHumans(0)
	conn.Emit(voice.Event{Type: voice.ParticipantLeave, UserID: "u1"})

	waitFor(t, func() bool { return s.State() == StateDisconnected }, "auto-leave")
	if !conn.Closed() {
		t.Error("connection not closed on auto-leave")
	}
	reasonMu.Lock()
	defer reasonMu.Unlock()
	if reason != ReasonChannelEmpty {
		t.Errorf("disconnect reason = %q, want %q", reason, ReasonChannelEmpty)
	}
}

func TestSessionAutoLeavesWhenJoinedChannelAlreadyEmpty(t *testing.T) {
	t.Parallel()

	var reasonMu sync.Mutex
	var reason DisconnectReason

	cfg := testConfig()
	cfg.LeaveGrace = 50 * time.Millisecond

	// The last human left while the join was in flight, so the connection
	// comes up empty and no ParticipantLeave ever reaches the session.
	conn := mock.NewConn("vc-1", 0)
	dialer := &mock.Dialer{
		DialFunc: func(_ context.Context, _, _ string) (voice.Conn, error) {
			return conn, nil
		},
	}
	s := NewSession("g1", &fakeSynth{}, dialer, cfg, Hooks{
		OnDisconnected: func(_ string, r DisconnectReason) {
			reasonMu.Lock()
			reason = r
			reasonMu.Unlock()
		},
	}, nil)
	t.Cleanup(s.Close)

	if err := s.Join(context.Background(), "vc-1", "tc-1"); err != nil {
		t.Fatalf("Join: %v", err)
	}

	waitFor(t, func() bool { return s.State() == StateDisconnected }, "auto-leave")
	if !conn.Closed() {
		t.Error("connection not closed on auto-leave")
	}
	reasonMu.Lock()
	defer reasonMu.Unlock()
	if reason != ReasonChannelEmpty {
		t.Errorf("disconnect reason = %q, want %q", reason, ReasonChannelEmpty)
	}
}

func TestSessionRejoinCancelsGrace(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.LeaveGrace = 60 * time.Millisecond

	s, conn := newTestSession(t, &fakeSynth{}, cfg, Hooks{})
	if err := s.Join(context.Background(), "vc-1", "tc-1"); err != nil {
		t.Fatalf("Join: %v", err)
	}

	conn.SetHumans(0)
	conn.Emit(voice.Event{Type: voice.ParticipantLeave, UserID: "u1"})

	time.Sleep(20 * time.Millisecond)
	conn.SetHumans(1)
	conn.Emit(voice.Event{Type: voice.ParticipantJoin, UserID: "u1"})

	time.Sleep(120 * time.Millisecond)
	if s.State() != StateConnected {
		t.Errorf("state = %v, want still connected after rejoin", s.State())
	}
}

func TestSessionConnectionLossDiscardsQueue(t *testing.T) {
	t.Parallel()

	var reasonMu sync.Mutex
	var reason DisconnectReason

	synth := &fakeSynth{gate: make(chan struct{})}
	s, conn := newTestSession(t, synth, testConfig(), Hooks{
		OnDisconnected: func(_ string, r DisconnectReason) {
			reasonMu.Lock()
			reason = r
			reasonMu.Unlock()
		},
	})

	if err := s.Join(context.Background(), "vc-1", "tc-1"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	s.Enqueue("u1", "pending", voicevox.Params{})
	waitFor(t, func() bool { return synth.callCount() == 1 }, "synthesis in flight")

	conn.Emit(voice.Event{Type: voice.Disconnected})

	waitFor(t, func() bool { return s.State() == StateDisconnected }, "disconnect handled")
	if s.QueueLen() != 0 {
		t.Errorf("queue len = %d, want 0 after connection loss", s.QueueLen())
	}
	reasonMu.Lock()
	defer reasonMu.Unlock()
	if reason != ReasonConnectionLost {
		t.Errorf("disconnect reason = %q, want %q", reason, ReasonConnectionLost)
	}
}

func TestSessionSkipCancelsCurrentClipOnly(t *testing.T) {
	t.Parallel()

	var once sync.Once
	blocked := make(chan struct{})

	s, conn := newTestSession(t, &fakeSynth{}, testConfig(), Hooks{})
	conn.PlayFunc = func(ctx context.Context, clip []byte) error {
		// Only the first clip blocks; later clips play through.
		if string(clip) == "wav:first" {
			once.Do(func() { close(blocked) })
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	}

	if err := s.Join(context.Background(), "vc-1", "tc-1"); err != nil {
		t.Fatalf("Join: %v", err)
	}

	s.Enqueue("u1", "first", voicevox.Params{})
	s.Enqueue("u1", "second", voicevox.Params{})
	<-blocked

	if err := s.Skip(context.Background()); err != nil {
		t.Fatalf("Skip: %v", err)
	}

	waitFor(t, func() bool { return len(conn.Played()) == 2 }, "second clip played")
	if got := playedTexts(conn); got[1] != "second" {
		t.Errorf("played = %v, want second clip after skip", got)
	}
}

func TestSessionEnqueueRejectedWhileDisconnected(t *testing.T) {
	t.Parallel()

	s, _ := newTestSession(t, &fakeSynth{}, testConfig(), Hooks{})
	if _, ok := s.Enqueue("u1", "hello", voicevox.Params{}); ok {
		t.Error("Enqueue accepted while disconnected")
	}
}

func TestSessionEnqueueDoesNotBlockDuringDial(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	conn := mock.NewConn("vc-1", 1)
	dialer := &mock.Dialer{
		DialFunc: func(ctx context.Context, _, _ string) (voice.Conn, error) {
			select {
			case <-release:
				return conn, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}

	var droppedMu sync.Mutex
	dropped := 0

	cfg := testConfig()
	cfg.ConnectTimeout = 5 * time.Second
	s := NewSession("g1", &fakeSynth{}, dialer, cfg, Hooks{
		OnDropped: func(string, Request) {
			droppedMu.Lock()
			dropped++
			droppedMu.Unlock()
		},
	}, nil)
	t.Cleanup(s.Close)

	joinErr := make(chan error, 1)
	go func() { joinErr <- s.Join(context.Background(), "vc-1", "tc-1") }()
	waitFor(t, func() bool { return s.State() == StateConnecting }, "dial in flight")

	// Flood the intake while the worker is parked in Dial. Overflow must be
	// rejected immediately, never block the gateway handler.
	const burst = 200
	start := time.Now()
	accepted := 0
	for i := 0; i < burst; i++ {
		if _, ok := s.Enqueue("u1", "flood", voicevox.Params{}); ok {
			accepted++
		}
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("enqueue burst took %v, want immediate overflow rejection", elapsed)
	}
	if accepted == burst {
		t.Fatal("every request accepted, want intake to cap out while dialing")
	}
	droppedMu.Lock()
	if got, want := dropped, burst-accepted; got != want {
		t.Errorf("dropped = %d, want %d", got, want)
	}
	droppedMu.Unlock()

	close(release)
	if err := <-joinErr; err != nil {
		t.Fatalf("Join: %v", err)
	}
}

func TestSessionParamsFrozenAtEnqueue(t *testing.T) {
	t.Parallel()

	var gotMu sync.Mutex
	var got []voicevox.Params

	synth := &fakeSynth{}
	recording := synthFunc(func(ctx context.Context, text string, p voicevox.Params) ([]byte, error) {
		gotMu.Lock()
		got = append(got, p)
		gotMu.Unlock()
		return synth.Synthesize(ctx, text, p)
	})

	s, conn := newTestSession(t, recording, testConfig(), Hooks{})
	if err := s.Join(context.Background(), "vc-1", "tc-1"); err != nil {
		t.Fatalf("Join: %v", err)
	}

	s.Enqueue("u1", "hello", voicevox.Params{Speaker: 3, Speed: 1.2})
	s.Enqueue("u1", "world", voicevox.Params{Speaker: 8, Speed: 0.8})

	waitFor(t, func() bool { return len(conn.Played()) == 2 }, "both clips played")

	gotMu.Lock()
	defer gotMu.Unlock()
	if got[0].Speaker != 3 || got[1].Speaker != 8 {
		t.Errorf("synthesis params = %+v, want per-request params preserved", got)
	}
}

type synthFunc func(ctx context.Context, text string, p voicevox.Params) ([]byte, error)

func (f synthFunc) Synthesize(ctx context.Context, text string, p voicevox.Params) ([]byte, error) {
	return f(ctx, text, p)
}
