// Package dispatch turns inbound chat events into agent turns and outbound
// chat operations: dedup, admission, resolution, lock acquisition, stream
// driving, chunking, and reaction feedback.
package dispatch

import (
	"sync"

	"github.com/seralo/bridgebot/internal/chat"
)

// dedupCapacity bounds each event-kind set. At capacity the oldest half is
// evicted, so retention degrades gradually instead of cliff-dropping.
const dedupCapacity = 500

// Deduper drops replayed platform events. The platform can deliver one
// logical action through both the mention and the plain-message path, so
// each kind gets its own set: the same id across kinds is independent.
type Deduper struct {
	mu   sync.Mutex
	sets map[chat.EventKind]*seenSet
}

// NewDeduper creates a deduper with the default per-kind capacity.
func NewDeduper() *Deduper {
	return &Deduper{
		sets: map[chat.EventKind]*seenSet{
			chat.KindMention: newSeenSet(dedupCapacity),
			chat.KindMessage: newSeenSet(dedupCapacity),
		},
	}
}

// Duplicate records the event id in its kind's set and reports whether it
// was already there. Safe under concurrent conversations.
func (d *Deduper) Duplicate(kind chat.EventKind, eventID string) bool {
	if eventID == "" {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	set, ok := d.sets[kind]
	if !ok {
		set = newSeenSet(dedupCapacity)
		d.sets[kind] = set
	}
	return set.add(eventID)
}

// seenSet is an insertion-ordered bounded set.
type seenSet struct {
	capacity int
	order    []string
	members  map[string]struct{}
}

func newSeenSet(capacity int) *seenSet {
	return &seenSet{
		capacity: capacity,
		members:  make(map[string]struct{}, capacity),
	}
}

// add inserts id and reports whether it was already present.
func (s *seenSet) add(id string) bool {
	if _, ok := s.members[id]; ok {
		return true
	}

	if len(s.order) >= s.capacity {
		drop := s.capacity / 2
		for _, old := range s.order[:drop] {
			delete(s.members, old)
		}
		s.order = append(s.order[:0], s.order[drop:]...)
	}

	s.order = append(s.order, id)
	s.members[id] = struct{}{}
	return false
}
