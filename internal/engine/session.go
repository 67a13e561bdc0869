package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kisaragi-dev/yomivox/internal/voice"
	"github.com/kisaragi-dev/yomivox/pkg/voicevox"
)

// State is the session lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected // connected, idle
	StatePlaying
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StatePlaying:
		return "playing"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrAlreadyConnected is returned by Join when the session already has
	// a voice connection.
	ErrAlreadyConnected = errors.New("engine: already connected to a voice channel")

	// ErrNotConnected is returned by Leave when there is nothing to leave.
	ErrNotConnected = errors.New("engine: not connected to a voice channel")

	// ErrClosed is returned once the session worker has shut down.
	ErrClosed = errors.New("engine: session closed")
)

// DisconnectReason says why a session dropped its voice connection.
type DisconnectReason string

const (
	ReasonLeave          DisconnectReason = "leave"
	ReasonChannelEmpty   DisconnectReason = "channel_empty"
	ReasonConnectionLost DisconnectReason = "connection_lost"
	ReasonShutdown       DisconnectReason = "shutdown"
)

// Config are the per-session tunables.
type Config struct {
	// QueueDepth bounds the pending queue. When full, the oldest queued
	// request is dropped to admit the newest.
	QueueDepth int

	// LeaveGrace is how long the session lingers in an empty channel
	// before auto-leaving.
	LeaveGrace time.Duration

	// ConnectTimeout bounds voice channel joins.
	ConnectTimeout time.Duration
}

// occupancyInterval is how often the worker re-checks channel occupancy on
// its own. Participant events can be missed while a join is in flight or
// when the connection's event buffer overflows, so the empty-channel check
// cannot rely on events alone.
const occupancyInterval = 30 * time.Second

// DefaultConfig returns the stock tunables.
func DefaultConfig() Config {
	return Config{
		QueueDepth:     20,
		LeaveGrace:     10 * time.Second,
		ConnectTimeout: 10 * time.Second,
	}
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.QueueDepth <= 0 {
		out.QueueDepth = 20
	}
	if out.LeaveGrace <= 0 {
		out.LeaveGrace = 10 * time.Second
	}
	if out.ConnectTimeout <= 0 {
		out.ConnectTimeout = 10 * time.Second
	}
	return out
}

// Hooks let the wiring layer observe session activity (metrics, persistence,
// user notices) without the engine importing any of it. All fields are
// optional; hooks are invoked from the session worker (OnDropped also from
// the Enqueue caller on intake overflow) and must not block.
type Hooks struct {
	OnStateChange    func(guildID string, from, to State)
	OnConnected      func(guildID, voiceChannelID, textChannelID string)
	OnDisconnected   func(guildID string, reason DisconnectReason)
	OnDropped        func(guildID string, req Request)
	OnSynthesized    func(guildID string, dur time.Duration)
	OnSynthesisError func(guildID string, err error)
	OnPlayed         func(guildID string, dur time.Duration)
	OnQueueDepth     func(guildID string, depth int)
}

// Session is one guild's read-aloud state machine. All mutable state is
// owned by a single worker goroutine; the exported methods communicate with
// it via channels, so every method is safe for concurrent use.
type Session struct {
	guildID string
	synth   Synthesizer
	dialer  voice.Dialer
	cfg     Config
	hooks   Hooks
	log     *slog.Logger

	reqCh  chan Request
	ctrlCh chan ctrlMsg

	synthDone chan synthResult
	playDone  chan playResult

	seq atomic.Uint64

	// mu guards the externally readable snapshot only; the worker is the
	// sole writer.
	mu           sync.Mutex
	state        State
	voiceChannel string
	textChannel  string
	queueLen     int
	lastActive   time.Time

	baseCtx   context.Context
	cancelAll context.CancelFunc
	closeCh   chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

type ctrlKind int

const (
	ctrlJoin ctrlKind = iota
	ctrlLeave
	ctrlSkip
)

type ctrlMsg struct {
	kind         ctrlKind
	voiceChannel string
	textChannel  string
	reply        chan error
}

// item is one queued request plus its synthesis progress.
type item struct {
	req     Request
	clip    []byte
	cancel  context.CancelFunc // non-nil while synthesis is in flight
	dropped bool
}

type synthResult struct {
	it   *item
	clip []byte
	err  error
	dur  time.Duration
}

type playResult struct {
	err error
	dur time.Duration
}

// NewSession creates a session and starts its worker.
func NewSession(guildID string, synth Synthesizer, dialer voice.Dialer, cfg Config, hooks Hooks, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		guildID:    guildID,
		synth:      synth,
		dialer:     dialer,
		cfg:        cfg.withDefaults(),
		hooks:      hooks,
		log:        log.With("guild_id", guildID),
		reqCh:      make(chan Request, 64),
		ctrlCh:     make(chan ctrlMsg),
		synthDone:  make(chan synthResult, 1),
		playDone:   make(chan playResult, 1),
		state:      StateDisconnected,
		lastActive: time.Now(),
		baseCtx:    baseCtx,
		cancelAll:  cancel,
		closeCh:    make(chan struct{}),
		done:       make(chan struct{}),
	}
	go s.run()
	return s
}

// GuildID returns the owning guild.
func (s *Session) GuildID() string { return s.guildID }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// VoiceChannelID returns the connected voice channel, or "".
func (s *Session) VoiceChannelID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voiceChannel
}

// TextChannelID returns the text channel this session reads aloud, or "".
func (s *Session) TextChannelID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.textChannel
}

// QueueLen returns the number of queued (not yet playing) requests.
func (s *Session) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queueLen
}

// LastActive returns the time of the last join, enqueue, or playback.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Join connects the session to a voice channel and binds the text channel
// it reads. Returns ErrAlreadyConnected if a connection exists.
func (s *Session) Join(ctx context.Context, voiceChannelID, textChannelID string) error {
	return s.control(ctx, ctrlMsg{
		kind:         ctrlJoin,
		voiceChannel: voiceChannelID,
		textChannel:  textChannelID,
	})
}

// Leave disconnects and discards the whole queue, including any request
// mid-synthesis or mid-playback.
func (s *Session) Leave(ctx context.Context) error {
	return s.control(ctx, ctrlMsg{kind: ctrlLeave})
}

// Skip cancels the currently playing clip. Queued requests are unaffected.
func (s *Session) Skip(ctx context.Context) error {
	return s.control(ctx, ctrlMsg{kind: ctrlSkip})
}

func (s *Session) control(ctx context.Context, msg ctrlMsg) error {
	msg.reply = make(chan error, 1)
	select {
	case s.ctrlCh <- msg:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
	select {
	case err := <-msg.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
}

// Enqueue submits an utterance. It reports false when the session is not
// accepting requests (disconnected or shutting down). Parameters are frozen
// into the request here and never re-resolved.
func (s *Session) Enqueue(userID, text string, p voicevox.Params) (Request, bool) {
	s.mu.Lock()
	st := s.state
	s.mu.Unlock()
	if st == StateDisconnected || st == StateDisconnecting {
		return Request{}, false
	}

	req := Request{
		ID:         uuid.NewString(),
		GuildID:    s.guildID,
		UserID:     userID,
		Text:       text,
		Params:     p,
		Seq:        s.seq.Add(1),
		EnqueuedAt: time.Now(),
	}
	select {
	case s.reqCh <- req:
		return req, true
	case <-s.done:
		return Request{}, false
	default:
		// Intake buffer full, meaning the worker is wedged (typically
		// mid-dial). Drop rather than block the gateway handler.
		if s.hooks.OnDropped != nil {
			s.hooks.OnDropped(s.guildID, req)
		}
		return Request{}, false
	}
}

// Close stops the worker, disconnecting first if needed, and waits for it
// to exit. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closeCh)
	})
	<-s.done
}

// run is the session worker. It is the only goroutine that touches the
// connection, the pending queue, and synthesis/playback progress.
func (s *Session) run() {
	defer close(s.done)
	defer s.cancelAll()

	var (
		conn       voice.Conn
		connEvents <-chan voice.Event
		pending    []*item
		inSynth    *item
		playing    *item
		playCancel context.CancelFunc

		graceTimer *time.Timer
		graceC     <-chan time.Time
	)

	occupancy := time.NewTicker(occupancyInterval)
	defer occupancy.Stop()

	setState := func(to State) {
		s.mu.Lock()
		from := s.state
		s.state = to
		s.mu.Unlock()
		if from != to && s.hooks.OnStateChange != nil {
			s.hooks.OnStateChange(s.guildID, from, to)
		}
	}

	touch := func() {
		s.mu.Lock()
		s.lastActive = time.Now()
		s.mu.Unlock()
	}

	syncQueue := func() {
		s.mu.Lock()
		s.queueLen = len(pending)
		s.mu.Unlock()
		if s.hooks.OnQueueDepth != nil {
			s.hooks.OnQueueDepth(s.guildID, len(pending))
		}
	}

	stopGrace := func() {
		if graceTimer != nil {
			graceTimer.Stop()
			graceTimer = nil
			graceC = nil
		}
	}

	// checkOccupancy arms the grace timer whenever the channel has no humans
	// and disarms it when one is present. The connection may already be empty
	// the moment it comes up, so this runs on join too, not just on events.
	checkOccupancy := func() {
		if conn == nil {
			return
		}
		if conn.HumanCount() > 0 {
			stopGrace()
			return
		}
		if graceTimer == nil {
			graceTimer = time.NewTimer(s.cfg.LeaveGrace)
			graceC = graceTimer.C
		}
	}

	// maybeSynth starts synthesis for the head of the queue. At most one
	// synthesis is in flight, and only ever for the request that plays
	// next: that is the whole look-ahead.
	maybeSynth := func() {
		if inSynth != nil || conn == nil || len(pending) == 0 || pending[0].clip != nil {
			return
		}
		it := pending[0]
		ctx, cancel := context.WithCancel(s.baseCtx)
		it.cancel = cancel
		inSynth = it
		go func() {
			start := time.Now()
			clip, err := s.synth.Synthesize(ctx, it.req.Text, it.req.Params)
			s.synthDone <- synthResult{it: it, clip: clip, err: err, dur: time.Since(start)}
		}()
	}

	maybePlay := func() {
		if playing != nil || conn == nil || len(pending) == 0 || pending[0].clip == nil {
			return
		}
		it := pending[0]
		pending = pending[1:]
		syncQueue()
		playing = it

		ctx, cancel := context.WithCancel(s.baseCtx)
		playCancel = cancel
		setState(StatePlaying)

		c := conn
		go func() {
			start := time.Now()
			err := c.Play(ctx, it.clip)
			s.playDone <- playResult{err: err, dur: time.Since(start)}
		}()

		maybeSynth()
	}

	// teardown drops the connection and the whole queue. In-flight
	// synthesis is cancelled; its late result is discarded when it lands.
	teardown := func(reason DisconnectReason) {
		setState(StateDisconnecting)
		stopGrace()

		for _, it := range pending {
			it.dropped = true
			if it.cancel != nil {
				it.cancel()
			}
		}
		pending = nil
		syncQueue()

		if playing != nil {
			playCancel()
			<-s.playDone
			playing = nil
			playCancel = nil
		}

		if conn != nil {
			if err := conn.Close(); err != nil {
				s.log.Warn("voice disconnect failed", "err", err)
			}
			conn = nil
			connEvents = nil
		}

		s.mu.Lock()
		s.voiceChannel = ""
		s.textChannel = ""
		s.mu.Unlock()

		setState(StateDisconnected)
		touch()
		if s.hooks.OnDisconnected != nil {
			s.hooks.OnDisconnected(s.guildID, reason)
		}
	}

	handleCtrl := func(msg ctrlMsg) {
		switch msg.kind {
		case ctrlJoin:
			if conn != nil {
				msg.reply <- ErrAlreadyConnected
				return
			}
			setState(StateConnecting)
			ctx, cancel := context.WithTimeout(s.baseCtx, s.cfg.ConnectTimeout)
			c, err := s.dialer.Dial(ctx, s.guildID, msg.voiceChannel)
			cancel()
			if err != nil {
				setState(StateDisconnected)
				msg.reply <- fmt.Errorf("engine: connect: %w", err)
				return
			}
			conn = c
			connEvents = c.Events()

			s.mu.Lock()
			s.voiceChannel = msg.voiceChannel
			s.textChannel = msg.textChannel
			s.mu.Unlock()

			setState(StateConnected)
			touch()
			s.log.Info("joined voice channel", "voice_channel_id", msg.voiceChannel, "text_channel_id", msg.textChannel)
			if s.hooks.OnConnected != nil {
				s.hooks.OnConnected(s.guildID, msg.voiceChannel, msg.textChannel)
			}
			msg.reply <- nil
			checkOccupancy()
			maybeSynth()
			maybePlay()

		case ctrlLeave:
			if conn == nil {
				msg.reply <- ErrNotConnected
				return
			}
			s.log.Info("leaving voice channel")
			teardown(ReasonLeave)
			msg.reply <- nil

		case ctrlSkip:
			if playing != nil {
				playCancel()
			}
			msg.reply <- nil
		}
	}

	for {
		select {
		case req := <-s.reqCh:
			if conn == nil && s.State() != StateConnecting {
				continue
			}
			if len(pending) >= s.cfg.QueueDepth {
				dropped := pending[0]
				dropped.dropped = true
				if dropped.cancel != nil {
					dropped.cancel()
				}
				pending = pending[1:]
				s.log.Debug("queue full, dropping oldest request",
					"dropped_seq", dropped.req.Seq, "new_seq", req.Seq)
				if s.hooks.OnDropped != nil {
					s.hooks.OnDropped(s.guildID, dropped.req)
				}
			}
			pending = append(pending, &item{req: req})
			syncQueue()
			touch()
			maybeSynth()
			maybePlay()

		case msg := <-s.ctrlCh:
			handleCtrl(msg)

		case res := <-s.synthDone:
			inSynth = nil
			res.it.cancel = nil
			if res.it.dropped {
				maybeSynth()
				continue
			}
			if res.err != nil {
				s.log.Warn("synthesis failed, skipping request",
					"request_id", res.it.req.ID, "err", res.err)
				if s.hooks.OnSynthesisError != nil {
					s.hooks.OnSynthesisError(s.guildID, res.err)
				}
				// Drop just this request; the session keeps going.
				if len(pending) > 0 && pending[0] == res.it {
					pending = pending[1:]
					syncQueue()
				}
				maybeSynth()
				maybePlay()
				continue
			}
			res.it.clip = res.clip
			if s.hooks.OnSynthesized != nil {
				s.hooks.OnSynthesized(s.guildID, res.dur)
			}
			maybePlay()

		case res := <-s.playDone:
			playing = nil
			playCancel = nil
			touch()
			if res.err != nil && !errors.Is(res.err, context.Canceled) {
				s.log.Warn("playback ended with error", "err", res.err)
			}
			if s.hooks.OnPlayed != nil {
				s.hooks.OnPlayed(s.guildID, res.dur)
			}
			if conn == nil {
				continue
			}
			setState(StateConnected)
			maybePlay()

		case ev, ok := <-connEvents:
			if !ok {
				connEvents = nil
				continue
			}
			switch ev.Type {
			case voice.ParticipantJoin, voice.ParticipantLeave:
				checkOccupancy()
			case voice.Disconnected:
				s.log.Warn("voice connection lost")
				teardown(ReasonConnectionLost)
			}

		case <-occupancy.C:
			checkOccupancy()

		case <-graceC:
			graceTimer = nil
			graceC = nil
			if conn != nil && conn.HumanCount() == 0 {
				s.log.Info("voice channel empty, auto-leaving")
				teardown(ReasonChannelEmpty)
			}

		case <-s.closeCh:
			if conn != nil {
				teardown(ReasonShutdown)
			}
			// A cancelled in-flight synthesis still posts its result;
			// nobody is left to read it, but the channel is buffered.
			return
		}
	}
}
