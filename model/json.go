package model

import "strings"

// ExtractJSON pulls the first complete JSON object out of model output that
// may be wrapped in markdown fences or surrounded by prose.
func ExtractJSON(text string) string {
	text = stripFences(strings.TrimSpace(text))

	start := findJSONStart(text)
	if start == -1 {
		return ""
	}
	end := findJSONEnd(text, start)
	if end == -1 {
		return ""
	}
	return text[start:end]
}

func stripFences(text string) string {
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
	} else {
		return text
	}
	if idx := strings.Index(text, "```"); idx != -1 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}

// findJSONStart finds the first opening brace.
func findJSONStart(s string) int {
	return strings.IndexByte(s, '{')
}

// findJSONEnd finds the index just past the brace matching the one at start,
// skipping braces inside JSON strings.
func findJSONEnd(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}
