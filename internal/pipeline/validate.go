package pipeline

import (
	"regexp"
	"strings"
)

// maxReplyLen is the reply length ceiling. Provider replies beyond this are
// considered invalid and go through the enhancement pass, which truncates at
// a sentence boundary.
const maxReplyLen = 2000

// bannedPatterns reject replies that are dismissive, prescriptive, or break
// the assistant framing. Matching is case-insensitive.
var bannedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bjust get over it\b`),
	regexp.MustCompile(`(?i)\bsnap out of it\b`),
	regexp.MustCompile(`(?i)\bnot a big deal\b`),
	regexp.MustCompile(`(?i)\bstop being so\b`),
	regexp.MustCompile(`(?i)\bit'?s all in your head\b`),
	regexp.MustCompile(`(?i)\byou (?:have|are suffering from) (?:clinical )?(?:depression|anxiety disorder|ptsd|bipolar)\b`),
	regexp.MustCompile(`(?i)\byou should (?:take|stop taking) (?:your )?medication\b`),
	regexp.MustCompile(`(?i)\bas an ai\b`),
	regexp.MustCompile(`(?i)\bi (?:cannot|can'?t) help you\b`),
}

// supportiveMarkers is the supportive-language heuristic: a valid reply
// must contain at least one of these, lowercased substring match. The list
// is deliberately broad; the heuristic catches replies that are pure
// information dumps with no acknowledgement of the person.
var supportiveMarkers = []string{
	"you", "your", "i'm here", "i hear", "understand", "sorry",
	"support", "listen", "feel", "help", "thank", "together", "care",
}

// validateReply checks a candidate reply against the supportive-language
// heuristic, the length ceiling, and the banned-pattern list.
func validateReply(reply string) bool {
	trimmed := strings.TrimSpace(reply)
	if trimmed == "" || len(trimmed) > maxReplyLen {
		return false
	}
	for _, p := range bannedPatterns {
		if p.MatchString(trimmed) {
			return false
		}
	}
	lowered := strings.ToLower(trimmed)
	for _, marker := range supportiveMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

// sentenceEnd splits on sentence-terminating punctuation followed by space.
var sentenceEnd = regexp.MustCompile(`(?m)([.!?])\s+`)

// enhanceReply is the single rule-based rewrite pass applied to an invalid
// reply: sentences matching a banned pattern are dropped, the result is
// truncated to the length ceiling at a sentence boundary, an empathic opener
// is prepended when no supportive marker is present, and a gentle invitation
// is appended when the reply does not already end with a question.
func enhanceReply(reply string) string {
	trimmed := strings.TrimSpace(reply)

	// Normalize so every sentence boundary is splittable, then rebuild
	// without the banned sentences.
	marked := sentenceEnd.ReplaceAllString(trimmed, "$1\x00")
	var kept []string
	for _, s := range strings.Split(marked, "\x00") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		banned := false
		for _, p := range bannedPatterns {
			if p.MatchString(s) {
				banned = true
				break
			}
		}
		if !banned {
			kept = append(kept, s)
		}
	}
	out := strings.Join(kept, " ")

	// Truncate at the last sentence boundary under the ceiling. Reserve
	// room for the opener and invitation joined below.
	const reserve = 120
	if len(out) > maxReplyLen-reserve {
		cut := out[:maxReplyLen-reserve]
		if idx := strings.LastIndexAny(cut, ".!?"); idx > 0 {
			cut = cut[:idx+1]
		}
		out = cut
	}

	lowered := strings.ToLower(out)
	hasMarker := false
	for _, marker := range supportiveMarkers {
		if strings.Contains(lowered, marker) {
			hasMarker = true
			break
		}
	}
	if !hasMarker {
		out = "I hear you, and what you're feeling matters. " + out
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return ""
	}
	if !strings.HasSuffix(out, "?") {
		out += " Would you like to talk more about it?"
	}
	return out
}
