package nl2sql

import (
	"regexp"
	"strings"

	"github.com/nlquery/nlquery/internal/sqltext"
)

var (
	fencedBlockPattern = regexp.MustCompile("(?s)```(?:[A-Za-z0-9_+-]*[ \t]*\r?\n)?(.*?)(?:```|$)")
	lineStartVerb      = regexp.MustCompile(`(?im)^[ \t]*(SELECT|INSERT|UPDATE|DELETE|WITH)\b`)
	anyVerb            = regexp.MustCompile(`(?i)\b(SELECT|INSERT|UPDATE|DELETE|WITH)\b`)
	blankLine          = regexp.MustCompile(`\n[ \t]*\r?\n`)
)

// ExtractStatement isolates one SQL statement from a model completion.
// A fenced code block wins over surrounding prose. Inside the chosen text
// the statement starts at the first SQL verb, preferring one at the start
// of a line, and ends at the first semicolon outside string literals and comments or,
// failing that, at the first blank line.
func ExtractStatement(completion string) (string, error) {
	if m := fencedBlockPattern.FindStringSubmatch(completion); m != nil {
		if stmt, ok := extractFrom(m[1]); ok {
			return stmt, nil
		}
	}
	if stmt, ok := extractFrom(completion); ok {
		return stmt, nil
	}
	return "", &NoStatementFoundError{Completion: completion}
}

func extractFrom(text string) (string, bool) {
	start := -1
	if loc := lineStartVerb.FindStringSubmatchIndex(text); loc != nil {
		start = loc[2]
	} else if loc := anyVerb.FindStringSubmatchIndex(text); loc != nil {
		start = loc[2]
	}
	if start < 0 {
		return "", false
	}

	stmt := cutStatement(text[start:])
	stmt = strings.TrimSpace(strings.ReplaceAll(stmt, "```", ""))
	if stmt == "" {
		return "", false
	}
	return stmt, true
}

func cutStatement(text string) string {
	if stmt, _, found := sqltext.Cut(text); found {
		return stmt
	}
	if loc := blankLine.FindStringIndex(text); loc != nil {
		return text[:loc[0]]
	}
	return text
}
