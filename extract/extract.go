// Package extract pulls fenced code or fenced JSON blocks out of free-form
// LLM text. It is pure and side-effect free: given the same input it
// always returns the same output.
package extract

import "strings"

// None is returned when no matching fenced block is found.
const None = ""

// Lang identifies the fence language tag to search for.
type Lang string

const (
	LangPython Lang = "python"
	LangJSON   Lang = "json"
	LangAny    Lang = ""
)

// Block extracts the last fenced block in text whose opening fence carries
// the requested language tag. An empty lang matches a fence with no
// language tag at all ("```"). Returns None if no such block exists. The
// returned text is trimmed of leading/trailing whitespace.
func Block(text string, lang Lang) string {
	lines := strings.Split(text, "\n")

	var (
		bestStart, bestEnd = -1, -1
		inFence            bool
		fenceStart         int
	)

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !inFence {
			if !strings.HasPrefix(trimmed, "```") {
				continue
			}
			tag := strings.TrimSpace(strings.TrimPrefix(trimmed, "```"))
			if !matchesTag(tag, lang) {
				continue
			}
			inFence = true
			fenceStart = i + 1
			continue
		}
		if trimmed == "```" || strings.HasPrefix(trimmed, "```") {
			bestStart, bestEnd = fenceStart, i
			inFence = false
		}
	}

	if bestStart < 0 || bestEnd < bestStart {
		return None
	}
	return strings.TrimSpace(strings.Join(lines[bestStart:bestEnd], "\n"))
}

func matchesTag(tag string, lang Lang) bool {
	if lang == LangAny {
		return tag == ""
	}
	return strings.EqualFold(tag, string(lang))
}
