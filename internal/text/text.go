// Package text provides string helpers shared across the bridge: display
// truncation and transport-limit chunking.
package text

import (
	"fmt"
	"sort"
	"strings"
)

// TruncateMap formats a map[string]any as "key=value, ..." with max length.
// Used for tool argument display. Keys are sorted for stable output.
func TruncateMap(args map[string]any, maxLen int) string {
	if args == nil {
		return ""
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, args[k]))
	}
	return Truncate(strings.Join(parts, ", "), maxLen)
}

// Truncate shortens a string to n characters with ellipsis.
// If n < 4, uses n = 4 to ensure room for "...".
func Truncate(s string, n int) string {
	if n < 4 {
		n = 4
	}
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// SplitChunks splits s into ordered chunks of at most limit bytes each.
// Splits prefer the last newline before the limit, but only when that
// newline sits past limit/2; otherwise the chunk is cut hard at the limit.
// Concatenating the chunks (restoring the newlines consumed at chunk
// boundaries) reproduces s.
func SplitChunks(s string, limit int) []string {
	if limit <= 0 || len(s) <= limit {
		return []string{s}
	}

	var chunks []string
	rest := s
	for len(rest) > limit {
		cut := limit
		trimNewline := false
		if idx := strings.LastIndexByte(rest[:limit], '\n'); idx > limit/2 {
			cut = idx
			trimNewline = true
		}
		chunks = append(chunks, rest[:cut])
		if trimNewline {
			rest = rest[cut+1:]
		} else {
			rest = rest[cut:]
		}
	}
	if rest != "" {
		chunks = append(chunks, rest)
	}
	return chunks
}
