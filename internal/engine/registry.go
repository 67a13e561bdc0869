package engine

import (
	"log/slog"
	"sync"
	"time"
)

// Registry owns every guild session. Lookups and creation share one narrow
// critical section around the map; session work itself never runs under the
// registry lock.
type Registry struct {
	factory   func(guildID string) *Session
	retention time.Duration
	log       *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewRegistry creates a Registry. factory builds a session for a guild seen
// for the first time. Disconnected sessions idle longer than retention are
// garbage collected by a janitor goroutine.
func NewRegistry(factory func(guildID string) *Session, retention time.Duration, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	if retention <= 0 {
		retention = 5 * time.Minute
	}
	r := &Registry{
		factory:   factory,
		retention: retention,
		log:       log,
		sessions:  make(map[string]*Session),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go r.janitor()
	return r
}

// GetOrCreate returns the guild's session, creating it on first use.
// Concurrent calls for the same guild get the same session.
func (r *Registry) GetOrCreate(guildID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[guildID]; ok {
		return s
	}
	s := r.factory(guildID)
	r.sessions[guildID] = s
	return s
}

// Get returns the guild's session if one exists.
func (r *Registry) Get(guildID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[guildID]
	return s, ok
}

// All returns a snapshot of every live session.
func (r *Registry) All() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close stops the janitor and shuts every session down, blocking until all
// workers have exited.
func (r *Registry) Close() {
	r.stopOnce.Do(func() {
		close(r.stop)
	})
	<-r.done

	for _, s := range r.All() {
		s.Close()
	}

	r.mu.Lock()
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()
}

// janitor periodically removes disconnected sessions idle past retention.
func (r *Registry) janitor() {
	defer close(r.done)

	interval := r.retention / 2
	if interval < 10*time.Second {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Registry) sweep() {
	cutoff := time.Now().Add(-r.retention)

	// Collect victims under the lock, close them outside it: Close waits
	// for the worker, and the worker must never be waited on while
	// holding the registry lock.
	r.mu.Lock()
	var victims []*Session
	for id, s := range r.sessions {
		if s.State() == StateDisconnected && s.LastActive().Before(cutoff) {
			victims = append(victims, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, s := range victims {
		r.log.Debug("collecting idle session", "guild_id", s.GuildID())
		s.Close()
	}
}
