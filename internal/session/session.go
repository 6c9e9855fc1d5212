// Package session tracks which agent session belongs to which chat thread
// and owns per-thread concurrency control.
package session

import (
	"context"
	"sync"
	"time"
)

// Info is the per-conversation state. It is owned by the Store entry for
// its conversation key; the dispatcher borrows it for the duration of one
// locked turn and must not retain it afterward.
type Info struct {
	// ConversationKey is the owning thread's stable key.
	ConversationKey string

	// Channel and ThreadTS are the key's components.
	Channel  string
	ThreadTS string

	// WorkingDir is fixed at creation.
	WorkingDir string

	// CreatedAt is the entry's creation time.
	CreatedAt time.Time

	// sem serializes turns for this conversation. Buffered size 1 so
	// acquisition is context-cancellable; the runtime wakes blocked
	// senders in arrival order, which gives queued turns FIFO handoff.
	sem chan struct{}

	// recoverOnce runs the reconnection probe at most once per entry.
	recoverOnce sync.Once

	mu           sync.Mutex
	sessionID    string
	alias        string
	lastActivity time.Time
	turnCount    int
	totalCost    float64
}

func newInfo(channel, threadTS, workingDir string, now time.Time) *Info {
	return &Info{
		ConversationKey: channel + ":" + threadTS,
		Channel:         channel,
		ThreadTS:        threadTS,
		WorkingDir:      workingDir,
		CreatedAt:       now,
		sem:             make(chan struct{}, 1),
		lastActivity:    now,
	}
}

// Acquire takes the conversation's turn lock, blocking behind any in-flight
// turn. Returns ctx.Err() if the context ends first.
func (i *Info) Acquire(ctx context.Context) error {
	select {
	case i.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire takes the lock only if it is free.
func (i *Info) TryAcquire() bool {
	select {
	case i.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees the turn lock. Must be called exactly once per successful
// acquisition, on every exit path.
func (i *Info) Release() {
	select {
	case <-i.sem:
	default:
		panic("session: release without acquire")
	}
}

// Busy reports whether a turn currently holds the lock.
func (i *Info) Busy() bool {
	return len(i.sem) > 0
}

// SessionID returns the bound session identifier, empty until the first
// successful turn (or recovery) binds one.
func (i *Info) SessionID() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.sessionID
}

// BindSession sets the session identifier. The identifier is set at most
// once; later calls with a different value are ignored and reported false.
func (i *Info) BindSession(id string) bool {
	if id == "" {
		return false
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.sessionID != "" {
		return i.sessionID == id
	}
	i.sessionID = id
	return true
}

// ClearSession drops an unrecoverable session identifier so the next
// message starts fresh.
func (i *Info) ClearSession() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.sessionID = ""
}

// Alias returns the handoff alias this entry was recovered through, if any.
func (i *Info) Alias() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.alias
}

// LastActivity returns the time of the last completed turn (or creation).
func (i *Info) LastActivity() time.Time {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.lastActivity
}

// Touch updates LastActivity to now.
func (i *Info) Touch() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.lastActivity = time.Now()
}

// RecordTurn updates bookkeeping after a completed turn.
func (i *Info) RecordTurn(cost float64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.lastActivity = time.Now()
	i.turnCount++
	i.totalCost += cost
}

// Stats returns turn count and cumulative cost.
func (i *Info) Stats() (turns int, cost float64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.turnCount, i.totalCost
}
