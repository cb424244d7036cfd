package pipeline

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/go-cmp/cmp"

	"github.com/nlquery/nlquery/internal/chart"
	"github.com/nlquery/nlquery/internal/database"
	"github.com/nlquery/nlquery/internal/nl2sql"
	"github.com/nlquery/nlquery/internal/observability"
	"github.com/nlquery/nlquery/internal/prompt"
	"github.com/nlquery/nlquery/internal/query"
	"github.com/nlquery/nlquery/internal/query/sqldb"
	"github.com/nlquery/nlquery/internal/schema"
)

var ordersDescription = schema.Description{Tables: []schema.Table{{
	Name: "orders",
	Columns: []schema.Column{
		{Name: "id", Type: "int"},
		{Name: "created_at", Type: "timestamp"},
		{Name: "total", Type: "numeric"},
	},
}}}

const dailySalesSQL = "SELECT CAST(created_at AS DATE) AS order_date, SUM(total) AS total_sales FROM orders GROUP BY 1 ORDER BY 1"

func TestAskTotalSalesPerDayEndToEnd(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	day1 := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	day2 := time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`information_schema\.columns`).
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "column_name", "data_type"}).
			AddRow("orders", "id", "int").
			AddRow("orders", "created_at", "timestamp").
			AddRow("orders", "total", "numeric"))
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(dailySalesSQL)).
		WillReturnRows(sqlmock.NewRows([]string{"order_date", "total_sales"}).
			AddRow(day1, "200.50").
			AddRow(day2, "352.10"))
	mock.ExpectRollback()

	translator := &fakeTranslator{result: nl2sql.Result{SQL: dailySalesSQL, Model: "gpt-4.1-nano"}}
	p := &Pipeline{
		Schema:     schema.NewIntrospector(db, database.DialectPostgres),
		Template:   prompt.Default(),
		Translator: translator,
		Executor:   sqldb.NewExecutor(db, database.DialectPostgres, sqldb.Options{RowLimit: 100}),
	}

	answer, err := p.Ask(context.Background(), "total sales per day")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if !strings.Contains(translator.prompt, "orders(id:int, created_at:timestamp, total:numeric)") {
		t.Fatalf("prompt does not contain the schema:\n%s", translator.prompt)
	}
	if !strings.Contains(translator.prompt, "total sales per day") {
		t.Fatalf("prompt does not contain the question:\n%s", translator.prompt)
	}
	if answer.SQL != dailySalesSQL {
		t.Fatalf("SQL = %q", answer.SQL)
	}
	if diff := cmp.Diff(chart.Spec{Kind: chart.KindLine, X: "order_date", Y: "total_sales"}, answer.Chart); diff != "" {
		t.Fatalf("Chart mismatch (-want +got):\n%s", diff)
	}
	if len(answer.Result.Rows) != 2 {
		t.Fatalf("len(Rows) = %d", len(answer.Result.Rows))
	}
	if answer.PromptVersion != prompt.Default().Version() {
		t.Fatalf("PromptVersion = %q", answer.PromptVersion)
	}
	if answer.Model != "gpt-4.1-nano" {
		t.Fatalf("Model = %q", answer.Model)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestAskRejectsEmptyQuestion(t *testing.T) {
	schemaSource := &fakeSchema{desc: ordersDescription}
	p := newFakePipeline(schemaSource, &fakeTranslator{}, &fakeExecutor{})

	for _, question := range []string{"", "   \n\t"} {
		_, err := p.Ask(context.Background(), question)
		assertStage(t, err, StageInput)
		if !errors.Is(err, ErrEmptyQuestion) {
			t.Fatalf("Ask(%q) error = %v, want ErrEmptyQuestion", question, err)
		}
	}
	if schemaSource.calls != 0 {
		t.Fatalf("schema introspected %d times for empty questions", schemaSource.calls)
	}
}

func TestAskTagsEachStageFailure(t *testing.T) {
	schemaErr := &schema.AccessError{Op: "connect", Err: errors.New("connection refused")}
	genErr := &nl2sql.GenerationError{Reason: nl2sql.ReasonStatus, StatusCode: 502}
	noStmt := &nl2sql.NoStatementFoundError{Completion: "sorry"}
	execErr := &query.ExecutionError{Statement: "SELECT nope", Err: errors.New("column nope does not exist")}

	tests := []struct {
		name       string
		pipeline   *Pipeline
		stage      Stage
		wantTarget any
	}{
		{
			name:       "schema",
			pipeline:   newFakePipeline(&fakeSchema{err: schemaErr}, &fakeTranslator{}, &fakeExecutor{}),
			stage:      StageSchema,
			wantTarget: new(*schema.AccessError),
		},
		{
			name: "prompt",
			pipeline: &Pipeline{
				Schema:     &fakeSchema{desc: ordersDescription},
				Translator: &fakeTranslator{},
				Executor:   &fakeExecutor{},
			},
			stage:      StagePrompt,
			wantTarget: new(*prompt.TemplateError),
		},
		{
			name:       "generate",
			pipeline:   newFakePipeline(&fakeSchema{desc: ordersDescription}, &fakeTranslator{err: genErr}, &fakeExecutor{}),
			stage:      StageGenerate,
			wantTarget: new(*nl2sql.GenerationError),
		},
		{
			name:       "no statement",
			pipeline:   newFakePipeline(&fakeSchema{desc: ordersDescription}, &fakeTranslator{err: noStmt}, &fakeExecutor{}),
			stage:      StageGenerate,
			wantTarget: new(*nl2sql.NoStatementFoundError),
		},
		{
			name:       "execute",
			pipeline:   newFakePipeline(&fakeSchema{desc: ordersDescription}, &fakeTranslator{result: nl2sql.Result{SQL: "SELECT nope"}}, &fakeExecutor{err: execErr}),
			stage:      StageExecute,
			wantTarget: new(*query.ExecutionError),
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			answer, err := tc.pipeline.Ask(context.Background(), "total sales per day")
			assertStage(t, err, tc.stage)
			if !errors.As(err, tc.wantTarget) {
				t.Fatalf("Ask() error = %v, want %T in chain", err, tc.wantTarget)
			}
			if answer.SQL != "" || answer.Result.Columns != nil {
				t.Fatalf("Ask() returned partial answer %+v", answer)
			}
		})
	}
}

func TestAskStopsAtFirstFailure(t *testing.T) {
	translator := &fakeTranslator{}
	executor := &fakeExecutor{}
	p := newFakePipeline(&fakeSchema{err: &schema.AccessError{Op: "query catalog", Err: errors.New("denied")}}, translator, executor)

	_, _ = p.Ask(context.Background(), "how many orders")
	if translator.calls != 0 || executor.calls != 0 {
		t.Fatalf("later stages ran after schema failure: translate=%d execute=%d", translator.calls, executor.calls)
	}
}

func TestAskZeroRowsIsAnAnswer(t *testing.T) {
	executor := &fakeExecutor{result: query.ResultSet{Columns: []string{"region", "total"}, Rows: [][]any{}}}
	p := newFakePipeline(&fakeSchema{desc: ordersDescription}, &fakeTranslator{result: nl2sql.Result{SQL: "SELECT region, total FROM orders WHERE 1=0"}}, executor)

	answer, err := p.Ask(context.Background(), "sales in antarctica")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if answer.Chart.Kind != chart.KindBar {
		t.Fatalf("Chart = %+v, want bar", answer.Chart)
	}
	if len(answer.Result.Rows) != 0 {
		t.Fatalf("Rows = %v", answer.Result.Rows)
	}
}

func TestAskIntrospectsEveryTime(t *testing.T) {
	schemaSource := &fakeSchema{desc: ordersDescription}
	p := newFakePipeline(schemaSource, &fakeTranslator{result: nl2sql.Result{SQL: "SELECT 1"}}, &fakeExecutor{result: query.ResultSet{Columns: []string{"x"}}})

	for i := 0; i < 3; i++ {
		if _, err := p.Ask(context.Background(), "count"); err != nil {
			t.Fatalf("Ask() error = %v", err)
		}
	}
	if schemaSource.calls != 3 {
		t.Fatalf("Introspect() calls = %d, want 3", schemaSource.calls)
	}
}

func TestAskRecordsStageTimings(t *testing.T) {
	clock := time.Date(2026, 2, 19, 0, 0, 0, 0, time.UTC)
	p := newFakePipeline(&fakeSchema{desc: ordersDescription}, &fakeTranslator{result: nl2sql.Result{SQL: "SELECT 1"}}, &fakeExecutor{result: query.ResultSet{Columns: []string{"x"}}})
	p.Now = func() time.Time {
		clock = clock.Add(10 * time.Millisecond)
		return clock
	}

	answer, err := p.Ask(context.Background(), "count")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if answer.Timings.Generate != 10*time.Millisecond {
		t.Fatalf("Generate = %s", answer.Timings.Generate)
	}
	if answer.Timings.Total <= answer.Timings.Execute {
		t.Fatalf("Total = %s, Execute = %s", answer.Timings.Total, answer.Timings.Execute)
	}
}

func TestAskLogsStageFailure(t *testing.T) {
	var buf bytes.Buffer
	p := newFakePipeline(&fakeSchema{desc: ordersDescription}, &fakeTranslator{err: &nl2sql.GenerationError{Reason: nl2sql.ReasonTimeout}}, &fakeExecutor{})
	p.Logger = slog.New(slog.NewJSONHandler(&buf, nil))

	_, _ = p.Ask(observability.ContextWithTraceID(context.Background(), "trace-9"), "count")
	logged := buf.String()
	if !strings.Contains(logged, `"msg":"pipeline_stage_failed"`) || !strings.Contains(logged, `"stage":"generate"`) || !strings.Contains(logged, `"trace_id":"trace-9"`) {
		t.Fatalf("log output = %s", logged)
	}
}

func TestPromptPreviewSkipsGeneration(t *testing.T) {
	translator := &fakeTranslator{}
	p := newFakePipeline(&fakeSchema{desc: ordersDescription}, translator, &fakeExecutor{})

	preview, err := p.Prompt(context.Background(), "total sales per day")
	if err != nil {
		t.Fatalf("Prompt() error = %v", err)
	}
	if !strings.Contains(preview.Prompt, "orders(id:int, created_at:timestamp, total:numeric)") {
		t.Fatalf("Prompt = %q", preview.Prompt)
	}
	if translator.calls != 0 {
		t.Fatal("Prompt() must not call the translator")
	}
}

func assertStage(t *testing.T, err error, want Stage) {
	t.Helper()
	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("error = %v, want *StageError", err)
	}
	if stageErr.Stage != want {
		t.Fatalf("Stage = %q, want %q", stageErr.Stage, want)
	}
}

func newFakePipeline(s SchemaSource, tr nl2sql.Translator, ex query.Executor) *Pipeline {
	return &Pipeline{
		Schema:     s,
		Template:   prompt.Default(),
		Translator: tr,
		Executor:   ex,
	}
}

type fakeSchema struct {
	desc  schema.Description
	err   error
	calls int
}

func (f *fakeSchema) Introspect(context.Context) (schema.Description, error) {
	f.calls++
	return f.desc, f.err
}

type fakeTranslator struct {
	result nl2sql.Result
	err    error
	prompt string
	calls  int
}

func (f *fakeTranslator) Translate(_ context.Context, req nl2sql.Request) (nl2sql.Result, error) {
	f.calls++
	f.prompt = req.Prompt
	if f.err != nil {
		return nl2sql.Result{}, f.err
	}
	return f.result, nil
}

type fakeExecutor struct {
	result query.ResultSet
	err    error
	calls  int
}

func (f *fakeExecutor) Execute(context.Context, string) (query.ResultSet, error) {
	f.calls++
	if f.err != nil {
		return query.ResultSet{}, f.err
	}
	return f.result, nil
}
