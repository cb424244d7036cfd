package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/go-cmp/cmp"

	"github.com/nlquery/nlquery/internal/database"
	"github.com/nlquery/nlquery/internal/query"
)

func TestExecuteReturnsRowsInDatabaseOrder(t *testing.T) {
	db, mock := newSQLMock(t)
	executor := NewExecutor(db, database.DialectPostgres, Options{RowLimit: 100, StatementTimeout: 15 * time.Second})
	day1 := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	day2 := time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET LOCAL statement_timeout = 15000")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT created_at, total FROM orders ORDER BY created_at")).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "total"}).
			AddRow(day1, []byte("200.50")).
			AddRow(day2, []byte("352.10")))
	mock.ExpectRollback()

	result, err := executor.Execute(context.Background(), "SELECT created_at, total FROM orders ORDER BY created_at;")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	want := [][]any{{day1, "200.50"}, {day2, "352.10"}}
	if diff := cmp.Diff([]string{"created_at", "total"}, result.Columns); diff != "" {
		t.Fatalf("Columns mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, result.Rows); diff != "" {
		t.Fatalf("Rows mismatch (-want +got):\n%s", diff)
	}
	if result.Truncated {
		t.Fatal("Truncated = true, want false")
	}
	assertSQLMock(t, mock)
}

func TestExecuteZeroRowsIsSuccess(t *testing.T) {
	db, mock := newSQLMock(t)
	executor := NewExecutor(db, database.DialectDuckDB, Options{})

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM orders WHERE total < 0`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	result, err := executor.Execute(context.Background(), "SELECT id FROM orders WHERE total < 0")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Columns) != 1 || result.Columns[0] != "id" {
		t.Fatalf("Columns = %v", result.Columns)
	}
	if result.Rows == nil || len(result.Rows) != 0 {
		t.Fatalf("Rows = %#v, want empty non-nil slice", result.Rows)
	}
	assertSQLMock(t, mock)
}

func TestExecuteInvalidSQLRollsBack(t *testing.T) {
	db, mock := newSQLMock(t)
	executor := NewExecutor(db, database.DialectPostgres, Options{})
	syntaxErr := errors.New(`syntax error at or near "FORM"`)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FORM orders`).WillReturnError(syntaxErr)
	mock.ExpectRollback()

	result, err := executor.Execute(context.Background(), "SELECT id FORM orders")
	var execErr *query.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("Execute() error = %v, want *query.ExecutionError", err)
	}
	if !errors.Is(err, syntaxErr) {
		t.Fatalf("Execute() error should wrap the database error, got %v", err)
	}
	if result.Columns != nil || result.Rows != nil {
		t.Fatalf("Execute() returned partial result %+v", result)
	}
	assertSQLMock(t, mock)
}

func TestExecuteTruncatesAtRowLimit(t *testing.T) {
	db, mock := newSQLMock(t)
	executor := NewExecutor(db, database.DialectSQLServer, Options{RowLimit: 2})

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT region FROM orders`).
		WillReturnRows(sqlmock.NewRows([]string{"region"}).AddRow("north").AddRow("south").AddRow("east"))
	mock.ExpectRollback()

	result, err := executor.Execute(context.Background(), "SELECT region FROM orders")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("len(Rows) = %d, want 2", len(result.Rows))
	}
	if !result.Truncated {
		t.Fatal("Truncated = false, want true")
	}
	assertSQLMock(t, mock)
}

func TestExecuteRejectsWritesWithoutTouchingDatabase(t *testing.T) {
	statements := []string{
		"DELETE FROM orders",
		"SELECT 1; DROP TABLE orders",
		"WITH x AS (SELECT 1) DELETE FROM orders",
		"SELECT 1 -- customer's\n; DELETE FROM orders; SELECT 1 AS x -- '",
		"SELECT 1 DELETE FROM orders",
		"SELECT * INTO orders_copy FROM orders",
	}
	for _, dialect := range []database.Dialect{database.DialectPostgres, database.DialectDuckDB, database.DialectSQLServer} {
		t.Run(string(dialect), func(t *testing.T) {
			db, mock := newSQLMock(t)
			executor := NewExecutor(db, dialect, Options{})

			for _, stmt := range statements {
				_, err := executor.Execute(context.Background(), stmt)
				var execErr *query.ExecutionError
				if !errors.As(err, &execErr) {
					t.Fatalf("Execute(%q) error = %v, want *query.ExecutionError", stmt, err)
				}
				if !errors.Is(err, query.ErrStatementNotAllowed) {
					t.Fatalf("Execute(%q) error = %v, want ErrStatementNotAllowed", stmt, err)
				}
			}
			assertSQLMock(t, mock)
		})
	}
}

func TestExecuteNeverCommits(t *testing.T) {
	for _, dialect := range []database.Dialect{database.DialectPostgres, database.DialectDuckDB, database.DialectSQLServer} {
		t.Run(string(dialect), func(t *testing.T) {
			db, mock := newSQLMock(t)
			executor := NewExecutor(db, dialect, Options{})

			mock.ExpectBegin()
			mock.ExpectQuery(`SELECT COUNT\(\*\) AS n FROM orders`).
				WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(int64(3)))
			mock.ExpectRollback()

			result, err := executor.Execute(context.Background(), "SELECT COUNT(*) AS n FROM orders")
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if diff := cmp.Diff([][]any{{int64(3)}}, result.Rows); diff != "" {
				t.Fatalf("Rows mismatch (-want +got):\n%s", diff)
			}
			assertSQLMock(t, mock)
		})
	}
}

func TestExecuteReportsFailedRollback(t *testing.T) {
	db, mock := newSQLMock(t)
	executor := NewExecutor(db, database.DialectDuckDB, Options{})

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT 1`).WillReturnRows(sqlmock.NewRows([]string{"x"}).AddRow(int64(1)))
	mock.ExpectRollback().WillReturnError(errors.New("connection reset"))

	_, err := executor.Execute(context.Background(), "SELECT 1")
	var execErr *query.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("Execute() error = %v, want *query.ExecutionError", err)
	}
	assertSQLMock(t, mock)
}

func TestExecuteRowErrorDiscardsResult(t *testing.T) {
	db, mock := newSQLMock(t)
	executor := NewExecutor(db, database.DialectDuckDB, Options{})

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM orders`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2).RowError(1, errors.New("connection lost")))
	mock.ExpectRollback()

	result, err := executor.Execute(context.Background(), "SELECT id FROM orders")
	var execErr *query.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("Execute() error = %v, want *query.ExecutionError", err)
	}
	if result.Rows != nil {
		t.Fatalf("Rows = %v, want nil", result.Rows)
	}
	assertSQLMock(t, mock)
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
