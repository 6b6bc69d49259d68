package llm

import (
	"strings"
)

// WordWrap wraps text at the specified width.
func WordWrap(text string, width int) string {
	if width <= 0 {
		return text
	}

	var result strings.Builder
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if i > 0 {
			result.WriteString("\n")
		}

		words := strings.Fields(line)
		if len(words) == 0 {
			continue
		}

		currentLineLength := 0
		for j, word := range words {
			if j > 0 {
				if currentLineLength+len(word)+1 > width {
					result.WriteString("\n")
					currentLineLength = 0
				} else {
					result.WriteString(" ")
					currentLineLength++
				}
			}
			result.WriteString(word)
			currentLineLength += len(word)
		}
	}

	return result.String()
}

// TruncateLines shortens every line longer than maxLen runes and drops
// blank lines. Used to keep prompt logs readable.
func TruncateLines(text string, maxLen int) string {
	if text == "" {
		return ""
	}

	var result []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		runes := []rune(trimmed)
		if len(runes) > maxLen {
			trimmed = string(runes[:maxLen]) + "..."
		}
		result = append(result, trimmed)
	}
	return strings.Join(result, "\n")
}

// CleanJSONBlock extracts the JSON payload of a model reply: the body of
// the first ``` fence if there is one, otherwise the span from the first
// '{' or '[' to the last matching closer. Anything else is returned trimmed.
func CleanJSONBlock(text string) string {
	text = strings.TrimSpace(text)

	if _, rest, ok := strings.Cut(text, "```"); ok {
		// Skip the info string ("json", "JSON", ...)
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 && !strings.ContainsAny(rest[:nl], "{[") {
			rest = rest[nl+1:]
		}
		body, _, _ := strings.Cut(rest, "```")
		return strings.TrimSpace(body)
	}

	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return text
	}
	closer := byte('}')
	if text[start] == '[' {
		closer = ']'
	}
	if end := strings.LastIndexByte(text, closer); end > start {
		return text[start : end+1]
	}
	return text
}
