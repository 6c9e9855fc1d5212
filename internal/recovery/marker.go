// Package recovery recovers session identity from conversation history
// after the in-memory store has lost it (process restart, idle eviction).
package recovery

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// Markers are inline delimited tags embedded in handoff and completion
// messages. Two forms exist: the alias form written by current handoffs
// and a legacy form carrying a raw session identifier.
//
//	_(session: dancing-cosmic-falcon)_
//	_(session_id: 1b4e28ba-2fa1-11d2-883f-0016d3cca427)_
var (
	aliasMarkerRe  = regexp.MustCompile(`_?\(session:\s*([a-z]+(?:-[a-z]+)+)\)_?`)
	legacyMarkerRe = regexp.MustCompile(`_?\(session_id:\s*([a-f0-9-]+)\)_?`)
)

// AliasMarker renders the alias marker form. Round-trips through
// ExtractMarker.
func AliasMarker(alias string) string {
	return fmt.Sprintf("_(session: %s)_", alias)
}

// LegacyMarker renders the legacy raw-identifier form.
func LegacyMarker(sessionID string) string {
	return fmt.Sprintf("_(session_id: %s)_", sessionID)
}

// Marker is one parsed marker occurrence.
type Marker struct {
	// Alias is set for the alias form.
	Alias string

	// SessionID is set for the legacy form.
	SessionID string
}

// ExtractMarker finds the authoritative marker in one message text. When a
// message carries several markers the last one wins; the alias form wins
// over a legacy form at the same position count.
func ExtractMarker(text string) (Marker, bool) {
	if m := lastMatch(aliasMarkerRe, text); m != "" {
		return Marker{Alias: m}, true
	}
	if m := lastMatch(legacyMarkerRe, text); m != "" {
		// The legacy form embedded the runtime's raw identifier, always
		// a UUID. Anything else is a false positive.
		if _, err := uuid.Parse(m); err != nil {
			return Marker{}, false
		}
		return Marker{SessionID: m}, true
	}
	return Marker{}, false
}

func lastMatch(re *regexp.Regexp, text string) string {
	matches := re.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return ""
	}
	return matches[len(matches)-1][1]
}
