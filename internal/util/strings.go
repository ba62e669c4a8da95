package util

import "unicode/utf8"

// Truncate returns at most max bytes of s without splitting a UTF-8 rune.
// A truncated result ends with "…".
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}

// LastNonEmptyLine returns the last line of s containing anything besides whitespace
func LastNonEmptyLine(s string) string {
	end := len(s)
	for end > 0 {
		start := end - 1
		for start >= 0 && s[start] != '\n' {
			start--
		}
		line := s[start+1 : end]
		for len(line) > 0 && (line[len(line)-1] == '\r' || line[len(line)-1] == ' ' || line[len(line)-1] == '\t') {
			line = line[:len(line)-1]
		}
		for len(line) > 0 && (line[0] == ' ' || line[0] == '\t') {
			line = line[1:]
		}
		if line != "" {
			return line
		}
		end = start
		if end < 0 {
			break
		}
	}
	return ""
}
