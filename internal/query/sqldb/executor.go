package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nlquery/nlquery/internal/database"
	"github.com/nlquery/nlquery/internal/query"
)

type Options struct {
	// RowLimit caps the rows read per statement; 0 reads everything.
	RowLimit         int
	StatementTimeout time.Duration
}

// Executor runs read-only statements against a database/sql pool, one
// transaction per statement. Every transaction is rolled back, including
// successful ones.
type Executor struct {
	db      *sql.DB
	dialect database.Dialect
	opts    Options
	now     func() time.Time
}

func NewExecutor(db *sql.DB, dialect database.Dialect, opts Options) *Executor {
	return &Executor{db: db, dialect: dialect, opts: opts, now: time.Now}
}

func (e *Executor) Execute(ctx context.Context, statement string) (query.ResultSet, error) {
	stmt, err := query.CheckReadOnly(statement)
	if err != nil {
		return query.ResultSet{}, &query.ExecutionError{Statement: statement, Err: err}
	}
	result, err := e.run(ctx, stmt)
	if err != nil {
		return query.ResultSet{}, &query.ExecutionError{Statement: stmt, Err: err}
	}
	return result, nil
}

func (e *Executor) run(ctx context.Context, stmt string) (query.ResultSet, error) {
	start := e.now()
	if e.opts.StatementTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.StatementTimeout)
		defer cancel()
	}

	var txOpts *sql.TxOptions
	if e.dialect.SupportsReadOnlyTx() {
		txOpts = &sql.TxOptions{ReadOnly: true}
	}
	tx, err := e.db.BeginTx(ctx, txOpts)
	if err != nil {
		return query.ResultSet{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if setTimeout := e.dialect.StatementTimeoutSQL(e.opts.StatementTimeout); setTimeout != "" {
		if _, err := tx.ExecContext(ctx, setTimeout); err != nil {
			return query.ResultSet{}, fmt.Errorf("set statement timeout: %w", err)
		}
	}

	rows, err := tx.QueryContext(ctx, stmt)
	if err != nil {
		return query.ResultSet{}, err
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return query.ResultSet{}, fmt.Errorf("read columns: %w", err)
	}

	result := query.ResultSet{Columns: columns, Rows: make([][]any, 0)}
	for rows.Next() {
		if e.opts.RowLimit > 0 && len(result.Rows) >= e.opts.RowLimit {
			result.Truncated = true
			break
		}
		values := make([]any, len(columns))
		targets := make([]any, len(columns))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return query.ResultSet{}, fmt.Errorf("scan row: %w", err)
		}
		result.Rows = append(result.Rows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return query.ResultSet{}, fmt.Errorf("iterate rows: %w", err)
	}
	if err := rows.Close(); err != nil {
		return query.ResultSet{}, fmt.Errorf("close rows: %w", err)
	}
	// A read has nothing to keep, so the transaction never commits.
	if err := tx.Rollback(); err != nil {
		return query.ResultSet{}, fmt.Errorf("end read transaction: %w", err)
	}

	result.Duration = e.now().Sub(start)
	return result, nil
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		case time.Time:
			normalized[i] = typed
		case fmt.Stringer:
			normalized[i] = typed.String()
		default:
			normalized[i] = typed
		}
	}
	return normalized
}
