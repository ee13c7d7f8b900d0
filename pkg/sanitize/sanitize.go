// Package sanitize makes attacker-controlled log text safe to print on a
// terminal. Auth log usernames and raw lines can carry escape sequences
// aimed at whoever tails them.
package sanitize

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const Ellipsis = "..."

// Field escapes s for the terminal and truncates it to maxRunes runes.
// A maxRunes of zero or less disables truncation.
func Field(s string, maxRunes int) string {
	return Truncate(ForTerminal(s), maxRunes)
}

// Truncate shortens s to at most maxRunes runes, ending with an ellipsis
// when anything was cut. It never splits a multi-byte rune.
func Truncate(s string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	if maxRunes <= len(Ellipsis) {
		return string([]rune(s)[:maxRunes])
	}
	return string([]rune(s)[:maxRunes-len(Ellipsis)]) + Ellipsis
}

// ForTerminal replaces control characters with visible markers. CSI and
// OSC escape sequences are collapsed into a single [ESC] marker.
func ForTerminal(s string) string {
	if !needsEscaping(s) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + 8)

	for i := 0; i < len(s); {
		c := s[i]
		if c == 0x1B {
			i = skipEscape(s, i)
			b.WriteString("[ESC]")
			continue
		}

		switch {
		case c == '\t', c == '\n':
			b.WriteByte(' ')
		case c == '\r':
			b.WriteString("[CR]")
		case c < 0x20:
			b.WriteString("[CTRL]")
		case c == 0x7F:
			b.WriteString("[DEL]")
		default:
			b.WriteByte(c)
		}
		i++
	}
	return b.String()
}

func needsEscaping(s string) bool {
	for i := 0; i < len(s); i++ {
		if c := s[i]; c < 0x20 || c == 0x7F {
			return true
		}
	}
	return false
}

// skipEscape returns the index just past the escape sequence starting at i.
func skipEscape(s string, i int) int {
	i++
	if i >= len(s) {
		return i
	}
	switch s[i] {
	case '[':
		i++
		for i < len(s) && !isCSITerminator(s[i]) {
			i++
		}
		if i < len(s) {
			i++
		}
	case ']':
		// OSC runs until BEL or ESC \.
		i++
		for i < len(s) {
			if s[i] == 0x07 {
				return i + 1
			}
			if s[i] == 0x1B && i+1 < len(s) && s[i+1] == '\\' {
				return i + 2
			}
			i++
		}
	}
	return i
}

func isCSITerminator(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || c == '@' || c == '`'
}

// IP keeps only characters that can appear in an IPv4 or IPv6 literal.
func IP(ip string) string {
	var b strings.Builder
	b.Grow(len(ip))

	for _, r := range ip {
		if unicode.IsDigit(r) || r == '.' || r == ':' ||
			(r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "[INVALID]"
	}
	return b.String()
}
