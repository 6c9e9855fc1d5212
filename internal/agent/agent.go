// Package agent defines the contract with the coding-agent runtime and a
// subprocess-backed implementation of it. The bridge consumes a normalized
// event stream; everything about the agent's own protocol stays in here.
package agent

import (
	"context"
	"time"
)

// EventKind classifies normalized agent events.
type EventKind string

const (
	// EventInit reports the session identifier the runtime assigned or
	// resumed. Always the first event of a stream.
	EventInit EventKind = "init"

	// EventText carries an assistant text fragment.
	EventText EventKind = "text"

	// EventToolUse reports a tool invocation starting.
	EventToolUse EventKind = "tool_use"

	// EventToolResult carries a tool's output.
	EventToolResult EventKind = "tool_result"

	// EventCompaction reports a context compaction.
	EventCompaction EventKind = "compaction"

	// EventCompletion ends a successful or failed turn.
	EventCompletion EventKind = "completion"

	// EventError reports a stream-level failure.
	EventError EventKind = "error"
)

// Event is one normalized agent event.
type Event struct {
	Kind EventKind

	// SessionID is set on init and completion events.
	SessionID string

	// Text is the fragment body for text events, the error message for
	// error events.
	Text string

	// ToolName and ToolInput describe tool_use events.
	ToolName  string
	ToolInput string

	// ToolOutput and ToolErrored describe tool_result events.
	ToolOutput  string
	ToolErrored bool

	// Completion fields.
	CostUSD  float64
	NumTurns int
	Duration time.Duration
	IsError  bool
	Subtype  string
}

// Options configures one agent turn.
type Options struct {
	// Prompt is the user's message.
	Prompt string

	// WorkingDir scopes the agent to a directory.
	WorkingDir string

	// ResumeSessionID resumes an existing session when non-empty.
	ResumeSessionID string

	// SystemPreamble is appended to the system prompt. Only sent on a
	// session's first turn.
	SystemPreamble string

	// PermissionMode is passed through to the runtime.
	PermissionMode string
}

// Stream is one in-flight agent turn.
type Stream interface {
	// Events returns the event channel. Closed when the turn ends.
	Events() <-chan Event

	// Interrupt asks the runtime to stop the turn. The stream still
	// delivers its terminal events and closes.
	Interrupt() error

	// Wait blocks until the underlying turn has fully ended and releases
	// its resources.
	Wait() error
}

// Runner starts agent turns.
type Runner interface {
	Start(ctx context.Context, opts Options) (Stream, error)
}
