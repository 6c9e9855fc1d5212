package session

import (
	"context"
	"sync"
	"time"

	"github.com/seralo/bridgebot/internal/logging"
)

// Recovered is a session identity pulled back out of conversation history.
type Recovered struct {
	SessionID string
	Alias     string
}

// Recoverer probes a conversation's history for a prior session identity.
// A failed or empty probe reports ok=false; it never returns an error
// because recovery degrades to "brand new conversation".
type Recoverer interface {
	Recover(ctx context.Context, channel, threadTS string) (Recovered, bool)
}

// Store is the in-memory conversation→session registry. The store mutex
// guards only the map's insert path; each entry's own lock is what gets
// held across a full agent turn.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Info

	recoverer Recoverer
	log       *logging.Logger
}

// NewStore creates a store. recoverer may be nil, in which case unknown
// conversations always start fresh.
func NewStore(recoverer Recoverer) *Store {
	return &Store{
		sessions:  make(map[string]*Info),
		recoverer: recoverer,
		log:       logging.New("session-store"),
	}
}

// GetOrCreate returns the entry for the conversation, creating it if
// needed. Creation is atomic under concurrent first messages: all callers
// observe the same *Info. A newly created entry probes the Recoverer once
// (outside the store mutex) before its first use.
func (s *Store) GetOrCreate(ctx context.Context, channel, threadTS, workingDir string) *Info {
	key := channel + ":" + threadTS

	s.mu.Lock()
	info, ok := s.sessions[key]
	if !ok {
		info = newInfo(channel, threadTS, workingDir, time.Now())
		s.sessions[key] = info
	}
	s.mu.Unlock()

	// The probe runs at most once per entry, executed by whichever caller
	// gets here first, and never under the store mutex.
	info.recoverOnce.Do(func() {
		if s.recoverer == nil {
			return
		}
		rec, found := s.recoverer.Recover(ctx, channel, threadTS)
		if !found {
			return
		}
		info.mu.Lock()
		if info.sessionID == "" {
			info.sessionID = rec.SessionID
			info.alias = rec.Alias
		}
		info.mu.Unlock()
		s.log.Info("session_recovered", map[string]interface{}{
			"conversation": key,
			"alias":        rec.Alias,
		})
	})

	return info
}

// Get returns the entry for the conversation, if present.
func (s *Store) Get(channel, threadTS string) (*Info, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.sessions[channel+":"+threadTS]
	return info, ok
}

// Remove tears down the conversation's entry.
func (s *Store) Remove(channel, threadTS string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, channel+":"+threadTS)
}

// Len returns the number of live entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// All returns a snapshot of the live entries.
func (s *Store) All() []*Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Info, 0, len(s.sessions))
	for _, info := range s.sessions {
		out = append(out, info)
	}
	return out
}

// SweepIdle removes entries idle longer than maxAge and returns their
// conversation keys. An entry whose turn lock is held is never evicted;
// the try-acquire both checks business and blocks a turn from starting
// mid-eviction.
func (s *Store) SweepIdle(maxAge time.Duration) []string {
	cutoff := time.Now().Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	var evicted []string
	for key, info := range s.sessions {
		if !info.TryAcquire() {
			continue
		}
		if info.LastActivity().Before(cutoff) {
			delete(s.sessions, key)
			evicted = append(evicted, key)
		}
		info.Release()
	}

	if len(evicted) > 0 {
		s.log.Info("idle_sweep", map[string]interface{}{
			"evicted":   len(evicted),
			"remaining": len(s.sessions),
		})
	}
	return evicted
}

// RunSweeper runs SweepIdle every interval until ctx ends. onEvict, when
// non-nil, receives each sweep's evicted keys.
func (s *Store) RunSweeper(ctx context.Context, interval, maxAge time.Duration, onEvict func([]string)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if evicted := s.SweepIdle(maxAge); len(evicted) > 0 && onEvict != nil {
				onEvict(evicted)
			}
		}
	}
}
