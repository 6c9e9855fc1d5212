package dispatch

import (
	"sync"
	"time"
)

// rateWindow is the sliding window for per-user admission.
const rateWindow = time.Minute

// RateLimiter enforces a per-user message cap over a sliding 60-second
// window. Shared by every in-flight conversation, so all access is under
// the mutex.
type RateLimiter struct {
	mu    sync.Mutex
	limit int
	hits  map[string][]time.Time

	// now is swapped out in tests.
	now func() time.Time
}

// NewRateLimiter creates a limiter allowing limit messages per user per
// minute. A non-positive limit disables limiting.
func NewRateLimiter(limit int) *RateLimiter {
	return &RateLimiter{
		limit: limit,
		hits:  make(map[string][]time.Time),
		now:   time.Now,
	}
}

// Allow records an attempt by the user and reports whether it is within
// the limit. Denied attempts are not recorded, so hammering while limited
// does not extend the lockout.
func (r *RateLimiter) Allow(userID string) bool {
	if r.limit <= 0 {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-rateWindow)
	recent := r.hits[userID][:0]
	for _, t := range r.hits[userID] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.hits[userID] = recent
		return false
	}

	r.hits[userID] = append(recent, r.now())
	return true
}
