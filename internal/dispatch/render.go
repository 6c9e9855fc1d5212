package dispatch

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/seralo/bridgebot/internal/agent"
	"github.com/seralo/bridgebot/internal/text"
)

// Verbosity controls which agent event kinds become user-visible output.
type Verbosity int

const (
	// VerbosityMinimal shows final text, completion summaries, permission
	// denials, and errors only.
	VerbosityMinimal Verbosity = iota

	// VerbosityNormal adds tool-activity one-liners and tool errors.
	VerbosityNormal

	// VerbosityVerbose adds tool result bodies and compaction notices.
	VerbosityVerbose
)

// ParseVerbosity maps a config string to a tier, defaulting to normal.
func ParseVerbosity(s string) Verbosity {
	switch s {
	case "minimal":
		return VerbosityMinimal
	case "verbose":
		return VerbosityVerbose
	default:
		return VerbosityNormal
	}
}

func (v Verbosity) showToolActivity() bool { return v >= VerbosityNormal }
func (v Verbosity) showToolErrors() bool   { return v >= VerbosityNormal }
func (v Verbosity) showToolResults() bool  { return v >= VerbosityVerbose }
func (v Verbosity) showCompaction() bool   { return v >= VerbosityVerbose }

// Reaction names used for turn feedback.
const (
	reactionReceived    = "eyes"
	reactionSuccess     = "white_check_mark"
	reactionFailure     = "x"
	reactionInterrupted = "octagonal_sign"
	reactionDenied      = "no_entry"
)

// toolErrorPreview caps inline tool error bodies.
const toolErrorPreview = 500

// strangerReplies greet users outside the allow-list.
var strangerReplies = []string{
	"Sorry, I only take requests from the team.",
	"I don't think we've been introduced. Ask an admin to add you.",
	"This bridge is invite-only, I'm afraid.",
}

func denialMessage() string {
	return strangerReplies[rand.Intn(len(strangerReplies))]
}

func rateLimitMessage(limit int) string {
	return fmt.Sprintf("Easy there - you're over %d messages in the last minute. Give it a moment and try again.", limit)
}

// formatToolActivity renders a tool_use one-liner.
func formatToolActivity(ev agent.Event) string {
	if ev.ToolInput == "" {
		return fmt.Sprintf("`%s`", ev.ToolName)
	}
	return fmt.Sprintf("`%s` %s", ev.ToolName, ev.ToolInput)
}

// formatToolError renders a failed tool result.
func formatToolError(ev agent.Event) string {
	return "tool error: " + text.Truncate(ev.ToolOutput, toolErrorPreview)
}

// errorLabels name completion error subtypes for users.
var errorLabels = map[string]string{
	"error_max_turns":        "turn limit reached",
	"error_max_budget":       "spend budget exceeded",
	"error_during_execution": "execution error",
	"interrupted":            "interrupted",
	"timeout":                "turn timed out",
}

func errorLabel(subtype string) string {
	if label, ok := errorLabels[subtype]; ok {
		return label
	}
	return "failed"
}

// formatCompletionSummary renders the end-of-turn status line.
func formatCompletionSummary(ev agent.Event, totalTurns int, totalCost float64) string {
	if ev.IsError {
		return fmt.Sprintf("%s after %s (%d turns, $%.2f total)",
			errorLabel(ev.Subtype), roundDuration(ev.Duration), totalTurns, totalCost)
	}
	return fmt.Sprintf("done in %s - %d agent turns, $%.2f this turn, $%.2f total",
		roundDuration(ev.Duration), ev.NumTurns, ev.CostUSD, totalCost)
}

func roundDuration(d time.Duration) time.Duration {
	if d >= time.Second {
		return d.Round(time.Second)
	}
	return d.Round(time.Millisecond)
}
