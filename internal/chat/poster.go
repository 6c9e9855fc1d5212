package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/seralo/bridgebot/internal/logging"
)

// DefaultPostInterval is the minimum gap between posts to one channel.
// The platform allows roughly one message per second per channel.
const DefaultPostInterval = time.Second

// Poster throttles outbound posts per channel and retries once on a
// platform rate-limit rejection. Posting blocks until the message is out,
// which preserves ordering within a single caller; concurrent callers
// serialize on the internal mutex.
type Poster struct {
	client   Client
	interval time.Duration
	log      *logging.Logger

	mu       sync.Mutex
	lastPost map[string]time.Time

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPoster wraps client with a per-channel throttle.
func NewPoster(client Client, interval time.Duration) *Poster {
	if interval <= 0 {
		interval = DefaultPostInterval
	}
	return &Poster{
		client:   client,
		interval: interval,
		log:      logging.New("poster"),
		lastPost: make(map[string]time.Time),
		sleep:    sleepCtx,
	}
}

// Post sends text to the thread, waiting out the channel's throttle window
// first. On a rate-limit rejection it honors the platform's retry hint once
// before giving up.
func (p *Poster) Post(ctx context.Context, channel, threadTS, text string) (PostResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.throttle(ctx, channel); err != nil {
		return PostResult{}, err
	}

	res, err := p.client.PostMessage(ctx, channel, threadTS, text)
	if err != nil {
		var rl *RateLimitError
		if !errors.As(err, &rl) {
			return PostResult{}, err
		}
		p.log.Warn("platform_rate_limited", map[string]interface{}{
			"channel":     channel,
			"retry_after": rl.RetryAfter.String(),
		}, nil)
		if serr := p.sleep(ctx, rl.RetryAfter); serr != nil {
			return PostResult{}, serr
		}
		res, err = p.client.PostMessage(ctx, channel, threadTS, text)
		if err != nil {
			return PostResult{}, err
		}
	}

	p.lastPost[channel] = time.Now()
	return res, nil
}

// throttle waits until the channel's minimum post interval has elapsed.
func (p *Poster) throttle(ctx context.Context, channel string) error {
	elapsed := time.Since(p.lastPost[channel])
	if elapsed >= p.interval {
		return nil
	}
	return p.sleep(ctx, p.interval-elapsed)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
