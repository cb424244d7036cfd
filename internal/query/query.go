package query

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/nlquery/nlquery/internal/sqltext"
)

// ResultSet holds rows in the order the database produced them. Every row
// has exactly len(Columns) values.
type ResultSet struct {
	Columns   []string      `json:"columns"`
	Rows      [][]any       `json:"rows"`
	Truncated bool          `json:"truncated"`
	Duration  time.Duration `json:"-"`
}

type Executor interface {
	Execute(ctx context.Context, statement string) (ResultSet, error)
}

var ErrStatementNotAllowed = errors.New("only a single read-only SELECT or WITH statement is allowed")

type ExecutionError struct {
	Statement string
	Err       error
}

func (e *ExecutionError) Error() string {
	return "query execution failed: " + e.Err.Error()
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// CheckReadOnly returns statement without surrounding whitespace and
// trailing semicolons, or ErrStatementNotAllowed when it is not one
// SELECT/WITH statement. Write and transaction-control keywords are
// rejected anywhere outside literals and comments, so data-modifying CTEs
// and semicolon-free T-SQL batches never reach the database.
func CheckReadOnly(statement string) (string, error) {
	stmt, rest, _ := sqltext.Cut(statement)
	stmt = strings.TrimSpace(stmt)

	if tail, ok := sqltext.Words(rest); !ok || len(tail) > 0 {
		return "", ErrStatementNotAllowed
	}
	words, ok := sqltext.Words(stmt)
	if !ok || len(words) == 0 {
		return "", ErrStatementNotAllowed
	}
	if words[0] != "select" && words[0] != "with" {
		return "", ErrStatementNotAllowed
	}
	for _, word := range words[1:] {
		if _, denied := deniedKeywords[word]; denied {
			return "", ErrStatementNotAllowed
		}
	}
	return stmt, nil
}

var deniedKeywords = map[string]struct{}{
	"insert": {}, "update": {}, "delete": {}, "merge": {}, "upsert": {}, "into": {},
	"create": {}, "alter": {}, "drop": {}, "truncate": {}, "rename": {},
	"grant": {}, "revoke": {}, "deny": {},
	"exec": {}, "execute": {}, "call": {}, "do": {},
	"copy": {}, "attach": {}, "detach": {}, "install": {}, "pragma": {}, "vacuum": {}, "checkpoint": {},
	"commit": {}, "rollback": {}, "savepoint": {},
	"bulk": {}, "backup": {}, "restore": {}, "dbcc": {}, "kill": {}, "shutdown": {}, "waitfor": {},
	"openrowset": {}, "opendatasource": {},
}
