// Package sanitize holds the pure functions of spec.md §4.7: extracting
// and stripping the orchestrator's embedded reasoning blocks, truncating
// long payload fields, and redacting credential-looking substrings from
// error strings before they reach an event payload.
package sanitize

import (
	"regexp"
	"strings"
)

// reasoningBlock matches the first well-formed
// [ORCHESTRATOR_THINKING]...[/ORCHESTRATOR_THINKING] block, non-greedy and
// dot-matches-newlines, exactly as spec.md §4.7 describes.
var reasoningBlock = regexp.MustCompile(`(?s)\[ORCHESTRATOR_THINKING\](.*?)\[/ORCHESTRATOR_THINKING\]`)

// blankLineRun matches a run of newlines (with adjacent spaces/tabs) at the
// very start or end of the string, so clean_query doesn't start or end with
// stray newlines. Blank lines in the middle of the text are not matched.
var blankLineRun = regexp.MustCompile(`^[ \t]*\n+|\n+[ \t]*$`)

// ExtractReasoning locates the first reasoning block in raw, returning the
// input with the block (and surrounding blank lines) removed as
// cleanQuery, and the block's inner text (trimmed) as reasoning. If no
// block is present, it returns (raw, "").
func ExtractReasoning(raw string) (cleanQuery, reasoning string) {
	loc := reasoningBlock.FindStringSubmatchIndex(raw)
	if loc == nil {
		return raw, ""
	}
	reasoning = strings.TrimSpace(raw[loc[2]:loc[3]])
	cleanQuery = raw[:loc[0]] + raw[loc[1]:]
	cleanQuery = blankLineRun.ReplaceAllString(cleanQuery, "")
	return cleanQuery, reasoning
}

// StripReasoning globally removes every well-formed reasoning block from
// text. Idempotent: calling it again on its own output is a no-op. Used on
// the final diagnosis before emitting `message`, and on thread-message
// fallback text.
func StripReasoning(text string) string {
	stripped := reasoningBlock.ReplaceAllString(text, "")
	return strings.TrimSpace(blankLineRun.ReplaceAllString(stripped, "\n"))
}

// Truncate clips s to maxChars runes, appending a marker so truncation is
// visible to clients rather than silent (spec.md §3: query/response are
// "truncated to configured caps").
func Truncate(s string, maxChars int) string {
	r := []rune(s)
	if len(r) <= maxChars {
		return s
	}
	return string(r[:maxChars]) + "…[truncated]"
}
