// Package memstore is the in-memory persistence backend, used when no
// database is configured and as the test double for the postgres backend.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kisaragi-dev/yomivox/internal/dict"
	"github.com/kisaragi-dev/yomivox/internal/store"
)

// Store holds everything in process memory. Safe for concurrent use.
// Contents are lost on restart, so session restore is a no-op with this
// backend.
type Store struct {
	mu       sync.RWMutex
	profiles map[string]store.VoiceProfile
	settings map[string]store.GuildSettings
	sessions map[string]store.SessionRecord
	entries  map[dictKey]dict.Entry
}

type dictKey struct {
	scope   string
	surface string
}

var (
	_ store.ProfileStore  = (*Store)(nil)
	_ store.SettingsStore = (*Store)(nil)
	_ store.SessionStore  = (*Store)(nil)
	_ dict.Store          = (*Store)(nil)
)

// New returns an empty Store.
func New() *Store {
	return &Store{
		profiles: make(map[string]store.VoiceProfile),
		settings: make(map[string]store.GuildSettings),
		sessions: make(map[string]store.SessionRecord),
		entries:  make(map[dictKey]dict.Entry),
	}
}

func (s *Store) Profile(_ context.Context, userID string) (store.VoiceProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.profiles[userID]; ok {
		return p, nil
	}
	return store.DefaultProfile(userID), nil
}

func (s *Store) SetProfile(_ context.Context, p store.VoiceProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.UserID] = p
	return nil
}

func (s *Store) Settings(_ context.Context, guildID string) (store.GuildSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if gs, ok := s.settings[guildID]; ok {
		return gs, nil
	}
	return store.DefaultSettings(guildID), nil
}

func (s *Store) SetSettings(_ context.Context, gs store.GuildSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[gs.GuildID] = gs
	return nil
}

func (s *Store) Sessions(_ context.Context) ([]store.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.SessionRecord, 0, len(s.sessions))
	for _, rec := range s.sessions {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GuildID < out[j].GuildID })
	return out, nil
}

func (s *Store) SaveSession(_ context.Context, rec store.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[rec.GuildID] = rec
	return nil
}

func (s *Store) DeleteSession(_ context.Context, guildID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, guildID)
	return nil
}

func (s *Store) Entries(_ context.Context, guildID string) ([]dict.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []dict.Entry
	for k, e := range s.entries {
		if k.scope == dict.GlobalScope || k.scope == guildID {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out, nil
}

func (s *Store) List(_ context.Context, scope string) ([]dict.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []dict.Entry
	for k, e := range s.entries {
		if k.scope == scope {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out, nil
}

func (s *Store) Add(_ context.Context, e dict.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	s.entries[dictKey{scope: e.Scope, surface: e.Surface}] = e
	return nil
}

func (s *Store) Remove(_ context.Context, scope, surface string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := dictKey{scope: scope, surface: surface}
	if _, ok := s.entries[k]; !ok {
		return false, nil
	}
	delete(s.entries, k)
	return true, nil
}

func sortEntries(entries []dict.Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Scope != entries[j].Scope {
			return entries[i].Scope < entries[j].Scope
		}
		return entries[i].Surface < entries[j].Surface
	})
}
