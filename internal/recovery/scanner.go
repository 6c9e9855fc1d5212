package recovery

import (
	"context"

	"github.com/seralo/bridgebot/internal/chat"
	"github.com/seralo/bridgebot/internal/logging"
	"github.com/seralo/bridgebot/internal/session"
)

// Resolver maps an alias to its session identifier. Satisfied by
// *handoff.Registry.
type Resolver interface {
	Resolve(ctx context.Context, alias string) (string, error)
}

// Scanner walks a thread's history looking for session markers.
type Scanner struct {
	client   chat.Client
	resolver Resolver
	log      *logging.Logger
}

var _ session.Recoverer = (*Scanner)(nil)

// NewScanner wires a scanner over the chat client and alias resolver.
func NewScanner(client chat.Client, resolver Resolver) *Scanner {
	return &Scanner{
		client:   client,
		resolver: resolver,
		log:      logging.New("recovery"),
	}
}

// Result describes one completed scan.
type Result struct {
	SessionID string
	Alias     string

	// MarkersSeen counts marker-bearing messages inspected.
	MarkersSeen int

	// Unmapped counts aliases that resolved to nothing and were skipped.
	Unmapped int
}

// Scan searches the thread for the most recent resolvable session marker.
// Only bot-authored messages are eligible: user text quoting a marker must
// not hijack the thread's session. A history fetch failure degrades to
// "no match" so reconnection never surfaces a platform error to the user.
func (s *Scanner) Scan(ctx context.Context, channel, threadTS string) (Result, bool) {
	history, err := s.client.History(ctx, channel, threadTS)
	if err != nil {
		s.log.Warn("history_fetch_failed", map[string]interface{}{
			"channel": channel,
			"thread":  threadTS,
		}, err)
		return Result{}, false
	}

	var res Result
	for i := len(history) - 1; i >= 0; i-- {
		msg := history[i]
		if !msg.FromBot() {
			continue
		}
		marker, ok := ExtractMarker(msg.Text)
		if !ok {
			continue
		}
		res.MarkersSeen++

		if marker.SessionID != "" {
			res.SessionID = marker.SessionID
			return res, true
		}

		sessionID, err := s.resolver.Resolve(ctx, marker.Alias)
		if err != nil {
			// Unmapped alias (or a registry hiccup): keep walking toward
			// older markers. Not found is a normal outcome here.
			s.log.Debug("alias_unmapped", map[string]interface{}{
				"alias": marker.Alias,
			})
			res.Unmapped++
			continue
		}

		res.SessionID = sessionID
		res.Alias = marker.Alias
		return res, true
	}

	return res, false
}

// Recover implements session.Recoverer.
func (s *Scanner) Recover(ctx context.Context, channel, threadTS string) (session.Recovered, bool) {
	res, ok := s.Scan(ctx, channel, threadTS)
	if !ok {
		return session.Recovered{}, false
	}
	return session.Recovered{SessionID: res.SessionID, Alias: res.Alias}, true
}
