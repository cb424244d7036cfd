// Package sqltext scans SQL text without parsing it. It knows where string
// literals, quoted identifiers and comments start and end, which is enough
// to find statement terminators and bare keywords.
package sqltext

import "strings"

// Walk calls visit with the offset of every byte of s that is SQL code,
// skipping string literals, quoted identifiers, dollar-quoted strings and
// comments. It stops early when visit returns false. The result reports
// whether s ended inside a literal or block comment.
func Walk(s string, visit func(i int) bool) (unterminated bool) {
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '-' && strings.HasPrefix(s[i:], "--"):
			end := strings.IndexByte(s[i:], '\n')
			if end < 0 {
				return false
			}
			i += end
		case c == '/' && strings.HasPrefix(s[i:], "/*"):
			end := strings.Index(s[i+2:], "*/")
			if end < 0 {
				return true
			}
			i += 2 + end + 2
		case c == '\'' || c == '"' || c == '`':
			end, ok := closingQuote(s, i, backslashEscapes(s, i))
			if !ok {
				return true
			}
			i = end + 1
		case c == '$' && dollarTag(s[i:]) != "":
			tag := dollarTag(s[i:])
			end := strings.Index(s[i+len(tag):], tag)
			if end < 0 {
				return true
			}
			i += len(tag) + end + len(tag)
		default:
			if !visit(i) {
				return false
			}
			i++
		}
	}
	return false
}

// Cut splits s around its first statement terminator. found is false when
// s has no semicolon outside literals and comments.
func Cut(s string) (before, after string, found bool) {
	at := -1
	Walk(s, func(i int) bool {
		if s[i] == ';' {
			at = i
			return false
		}
		return true
	})
	if at < 0 {
		return s, "", false
	}
	return s[:at], s[at+1:], true
}

// Words returns the lower-cased bare words of s in order. ok is false when
// s ends inside a literal or block comment.
func Words(s string) (words []string, ok bool) {
	var current strings.Builder
	last := -2
	flush := func() {
		if current.Len() > 0 {
			words = append(words, strings.ToLower(current.String()))
			current.Reset()
		}
	}
	unterminated := Walk(s, func(i int) bool {
		if i != last+1 {
			flush()
		}
		last = i
		if isWordByte(s[i]) {
			current.WriteByte(s[i])
		} else {
			flush()
		}
		return true
	})
	flush()
	return words, !unterminated
}

func closingQuote(s string, open int, escapes bool) (int, bool) {
	quote := s[open]
	for i := open + 1; i < len(s); i++ {
		switch {
		case escapes && s[i] == '\\':
			i++
		case s[i] == quote:
			if i+1 < len(s) && s[i+1] == quote {
				i++
				continue
			}
			return i, true
		}
	}
	return 0, false
}

// backslashEscapes reports whether the quote at open starts an E'...'
// string, the only literal form where a backslash escapes the quote.
func backslashEscapes(s string, open int) bool {
	if s[open] != '\'' || open == 0 {
		return false
	}
	if prefix := s[open-1]; prefix != 'E' && prefix != 'e' {
		return false
	}
	return open == 1 || !isWordByte(s[open-2])
}

// dollarTag returns the $tag$ opening a dollar-quoted string at the start
// of s, or "" when s does not start one. $1 style parameters are not tags.
func dollarTag(s string) string {
	for i := 1; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '$':
			return s[:i+1]
		case c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 1:
		default:
			return ""
		}
	}
	return ""
}

func isWordByte(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}
