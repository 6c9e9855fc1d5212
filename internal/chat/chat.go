// Package chat defines the contract with the chat platform. The platform
// client itself is an external collaborator; the bridge consumes these
// interfaces and never imports a platform SDK directly.
package chat

import (
	"context"
	"fmt"
	"time"
)

// EventKind distinguishes the two delivery paths the platform may use for
// the same logical action.
type EventKind string

const (
	KindMention EventKind = "mention"
	KindMessage EventKind = "message"
)

// Event is one inbound chat event.
type Event struct {
	// Channel is the channel identifier.
	Channel string

	// ThreadTS identifies the thread; for a top-level message it equals TS.
	ThreadTS string

	// TS is the message's own timestamp identifier.
	TS string

	// UserID is the sending user.
	UserID string

	// Text is the message body with any bot mention already stripped.
	Text string

	// EventID is the platform-assigned event identifier, used for dedup.
	EventID string

	// Kind is the delivery path this event arrived through.
	Kind EventKind
}

// ConversationKey returns the stable key for the event's logical
// conversation: one chat thread.
func (e Event) ConversationKey() string {
	return e.Channel + ":" + e.ThreadTS
}

// Message is one historical message, as returned by History.
type Message struct {
	TS     string
	UserID string
	BotID  string
	Text   string
}

// FromBot reports whether the message was authored by a bot.
func (m Message) FromBot() bool {
	return m.BotID != ""
}

// PostResult identifies a posted message.
type PostResult struct {
	Channel string
	TS      string
}

// Client is the platform API surface the bridge consumes.
type Client interface {
	// PostMessage posts text as a reply in the given thread. An empty
	// threadTS posts to the channel top level.
	PostMessage(ctx context.Context, channel, threadTS, text string) (PostResult, error)

	// AddReaction applies a reaction to the message at ts.
	AddReaction(ctx context.Context, channel, ts, name string) error

	// RemoveReaction removes a reaction from the message at ts.
	RemoveReaction(ctx context.Context, channel, ts, name string) error

	// UploadFile attaches content as a file in the given thread.
	UploadFile(ctx context.Context, channel, threadTS, filename string, content []byte) error

	// History returns the thread's messages, oldest first.
	History(ctx context.Context, channel, threadTS string) ([]Message, error)

	// BotUserID returns the bridge's own user identifier.
	BotUserID() string
}

// RateLimitError reports a platform rate-limit rejection with the
// platform's retry hint.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited by platform, retry after %s", e.RetryAfter)
}
