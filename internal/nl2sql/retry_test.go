package nl2sql

import (
	"context"
	"errors"
	"testing"
	"time"
)

type scriptedTranslator struct {
	errs  []error
	calls int
}

func (s *scriptedTranslator) Translate(ctx context.Context, req Request) (Result, error) {
	s.calls++
	if s.calls <= len(s.errs) && s.errs[s.calls-1] != nil {
		return Result{}, s.errs[s.calls-1]
	}
	return Result{SQL: "SELECT 1", Model: "fake"}, nil
}

func TestWithRetriesSingleAttemptReturnsTranslatorUnchanged(t *testing.T) {
	inner := &scriptedTranslator{}
	if got := WithRetries(inner, 1, time.Second); got != Translator(inner) {
		t.Fatalf("WithRetries(1) = %T, want the wrapped translator", got)
	}
}

func TestWithRetriesRetriesGenerationErrors(t *testing.T) {
	inner := &scriptedTranslator{errs: []error{
		&GenerationError{Reason: ReasonStatus, StatusCode: 503},
		&GenerationError{Reason: ReasonTimeout},
	}}
	var waits []time.Duration
	wrapped := WithRetries(inner, 3, 10*time.Millisecond).(*retryingTranslator)
	wrapped.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	result, err := wrapped.Translate(context.Background(), Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	if result.SQL != "SELECT 1" {
		t.Fatalf("SQL = %q", result.SQL)
	}
	if inner.calls != 3 {
		t.Fatalf("calls = %d, want 3", inner.calls)
	}
	if len(waits) != 2 || waits[0] != 10*time.Millisecond || waits[1] != 20*time.Millisecond {
		t.Fatalf("waits = %v", waits)
	}
}

func TestWithRetriesGivesUpAfterAttempts(t *testing.T) {
	failure := &GenerationError{Reason: ReasonTransport}
	inner := &scriptedTranslator{errs: []error{failure, failure}}
	wrapped := WithRetries(inner, 2, 0)

	_, err := wrapped.Translate(context.Background(), Request{Prompt: "p"})
	if !errors.Is(err, failure) {
		t.Fatalf("Translate() error = %v, want last generation error", err)
	}
	if inner.calls != 2 {
		t.Fatalf("calls = %d, want 2", inner.calls)
	}
}

func TestWithRetriesDoesNotRetryMissingStatement(t *testing.T) {
	inner := &scriptedTranslator{errs: []error{&NoStatementFoundError{Completion: "nope"}}}
	wrapped := WithRetries(inner, 5, 0)

	_, err := wrapped.Translate(context.Background(), Request{Prompt: "p"})
	var noStmt *NoStatementFoundError
	if !errors.As(err, &noStmt) {
		t.Fatalf("Translate() error = %v", err)
	}
	if inner.calls != 1 {
		t.Fatalf("calls = %d, want 1", inner.calls)
	}
}

func TestWithRetriesStopsWhenContextEnds(t *testing.T) {
	inner := &scriptedTranslator{errs: []error{&GenerationError{Reason: ReasonStatus}, nil}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := WithRetries(inner, 3, time.Hour).Translate(ctx, Request{Prompt: "p"})
	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("Translate() error = %v", err)
	}
	if inner.calls != 1 {
		t.Fatalf("calls = %d, want 1", inner.calls)
	}
}
