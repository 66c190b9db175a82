package llm

import "strings"

// CleanText strips wrappers models add around plain answers: markdown code
// fences and a pair of enclosing quotes.
func CleanText(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		// Drop a language tag on the fence line
		if idx := strings.Index(text, "\n"); idx >= 0 {
			first := text[:idx]
			if len(first) < 20 && !strings.Contains(first, " ") {
				text = text[idx+1:]
			}
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	for _, pair := range [][2]string{{`"`, `"`}, {"“", "”"}} {
		if len(text) > len(pair[0]) && strings.HasPrefix(text, pair[0]) && strings.HasSuffix(text, pair[1]) {
			text = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(text, pair[0]), pair[1]))
			break
		}
	}
	return text
}
