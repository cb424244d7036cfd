package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/nlquery/nlquery/internal/chart"
	"github.com/nlquery/nlquery/internal/nl2sql"
	"github.com/nlquery/nlquery/internal/observability"
	"github.com/nlquery/nlquery/internal/prompt"
	"github.com/nlquery/nlquery/internal/query"
	"github.com/nlquery/nlquery/internal/schema"
)

type Stage string

const (
	StageInput    Stage = "input"
	StageSchema   Stage = "schema"
	StagePrompt   Stage = "prompt"
	StageGenerate Stage = "generate"
	StageExecute  Stage = "execute"
)

var ErrEmptyQuestion = errors.New("question is empty")

// StageError tags a failure with the pipeline stage that produced it.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

type SchemaSource interface {
	Introspect(ctx context.Context) (schema.Description, error)
}

type Timings struct {
	Schema   time.Duration `json:"schema"`
	Prompt   time.Duration `json:"prompt"`
	Generate time.Duration `json:"generate"`
	Execute  time.Duration `json:"execute"`
	Total    time.Duration `json:"total"`
}

type Preview struct {
	Question      string
	Schema        schema.Description
	Prompt        string
	PromptVersion string
}

type Answer struct {
	Question      string
	Prompt        string
	PromptVersion string
	SQL           string
	Model         string
	Result        query.ResultSet
	Chart         chart.Spec
	Timings       Timings
}

// Pipeline answers one question at a time: introspect, compose, generate,
// execute, pick a chart. It holds no per-question state, so one value can
// serve concurrent callers.
type Pipeline struct {
	Schema     SchemaSource
	Template   prompt.Template
	Translator nl2sql.Translator
	Executor   query.Executor
	Logger     *slog.Logger
	Now        func() time.Time
}

func (p *Pipeline) Prompt(ctx context.Context, question string) (Preview, error) {
	var timings Timings
	preview, err := p.prepare(ctx, question, &timings)
	if err != nil {
		p.fail(ctx, question, err)
		return Preview{}, err
	}
	return preview, nil
}

func (p *Pipeline) Ask(ctx context.Context, question string) (Answer, error) {
	start := p.now()
	var timings Timings

	preview, err := p.prepare(ctx, question, &timings)
	if err != nil {
		p.fail(ctx, question, err)
		return Answer{}, err
	}

	var generated nl2sql.Result
	err = p.stage(StageGenerate, &timings.Generate, func() error {
		var genErr error
		generated, genErr = p.Translator.Translate(ctx, nl2sql.Request{Prompt: preview.Prompt})
		return genErr
	})
	if err != nil {
		p.fail(ctx, question, err)
		return Answer{}, err
	}

	var result query.ResultSet
	err = p.stage(StageExecute, &timings.Execute, func() error {
		var execErr error
		result, execErr = p.Executor.Execute(ctx, generated.SQL)
		return execErr
	})
	if err != nil {
		p.fail(ctx, question, err, slog.String("sql", generated.SQL))
		return Answer{}, err
	}

	spec := chart.Select(result.Columns, len(result.Columns))
	timings.Total = p.now().Sub(start)

	observability.ObserveAnswer(string(spec.Kind), len(result.Rows))
	observability.ForContext(ctx, p.logger()).InfoContext(ctx, "pipeline_completed",
		slog.String("sql", generated.SQL),
		slog.Int("rows", len(result.Rows)),
		slog.Bool("truncated", result.Truncated),
		slog.String("chart", string(spec.Kind)),
		slog.String("duration", timings.Total.String()),
	)

	return Answer{
		Question:      preview.Question,
		Prompt:        preview.Prompt,
		PromptVersion: preview.PromptVersion,
		SQL:           generated.SQL,
		Model:         generated.Model,
		Result:        result,
		Chart:         spec,
		Timings:       timings,
	}, nil
}

func (p *Pipeline) prepare(ctx context.Context, question string, timings *Timings) (Preview, error) {
	if strings.TrimSpace(question) == "" {
		return Preview{}, &StageError{Stage: StageInput, Err: ErrEmptyQuestion}
	}

	var desc schema.Description
	err := p.stage(StageSchema, &timings.Schema, func() error {
		var introspectErr error
		desc, introspectErr = p.Schema.Introspect(ctx)
		return introspectErr
	})
	if err != nil {
		return Preview{}, err
	}

	var composed string
	err = p.stage(StagePrompt, &timings.Prompt, func() error {
		var composeErr error
		composed, composeErr = prompt.Compose(p.Template, desc.String(), question)
		return composeErr
	})
	if err != nil {
		return Preview{}, err
	}

	return Preview{
		Question:      question,
		Schema:        desc,
		Prompt:        composed,
		PromptVersion: p.Template.Version(),
	}, nil
}

func (p *Pipeline) stage(name Stage, elapsed *time.Duration, fn func() error) error {
	start := p.now()
	err := fn()
	*elapsed = p.now().Sub(start)
	observability.ObservePipelineStage(string(name), *elapsed)
	if err != nil {
		return &StageError{Stage: name, Err: err}
	}
	return nil
}

func (p *Pipeline) fail(ctx context.Context, question string, err error, attrs ...slog.Attr) {
	stage := "unknown"
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		stage = string(stageErr.Stage)
	}
	observability.IncrementPipelineFailure(stage)

	args := []any{
		slog.String("stage", stage),
		slog.Int("question_length", len(question)),
		slog.Any("error", err),
	}
	for _, attr := range attrs {
		args = append(args, attr)
	}
	observability.ForContext(ctx, p.logger()).WarnContext(ctx, "pipeline_stage_failed", args...)
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
