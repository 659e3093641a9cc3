package core

import (
	"strings"
)

// StripDirectiveSyntax removes residual action-directive syntax from a final
// answer: fenced code blocks first, then any balanced JSON objects, so the
// client never sees the loop's internal vocabulary. Whitespace is collapsed
// to at most one blank line between paragraphs.
func StripDirectiveSyntax(s string) string {
	s = stripCodeFences(s)
	for _, span := range scanJSONObjects(s) {
		s = strings.Replace(s, span, "", 1)
	}
	return collapseBlankLines(strings.TrimSpace(s))
}

// stripCodeFences drops ``` and ~~~ fenced blocks, keeping surrounding prose.
func stripCodeFences(s string) string {
	var b strings.Builder
	lines := strings.Split(s, "\n")
	inFence := false
	fence := ""
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !inFence && (strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~")) {
			inFence = true
			fence = trimmed[:3]
			continue
		}
		if inFence {
			if strings.HasPrefix(trimmed, fence) {
				inFence = false
			}
			continue
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func collapseBlankLines(s string) string {
	var out []string
	blank := 0
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) == "" {
			blank++
			if blank > 1 {
				continue
			}
			out = append(out, "")
			continue
		}
		blank = 0
		out = append(out, strings.TrimRight(line, " \t"))
	}
	return strings.Join(out, "\n")
}
