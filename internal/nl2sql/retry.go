package nl2sql

import (
	"context"
	"errors"
	"time"
)

// WithRetries re-invokes next when it fails with a *GenerationError, up to
// attempts calls in total. Other failures, NoStatementFoundError included,
// are returned at once. attempts <= 1 returns next unchanged.
func WithRetries(next Translator, attempts int, backoff time.Duration) Translator {
	if attempts <= 1 || next == nil {
		return next
	}
	return &retryingTranslator{next: next, attempts: attempts, backoff: backoff, sleep: sleepContext}
}

type retryingTranslator struct {
	next     Translator
	attempts int
	backoff  time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
}

func (r *retryingTranslator) Translate(ctx context.Context, req Request) (Result, error) {
	var (
		result Result
		err    error
	)
	for attempt := 1; attempt <= r.attempts; attempt++ {
		result, err = r.next.Translate(ctx, req)
		var genErr *GenerationError
		if err == nil || !errors.As(err, &genErr) || attempt == r.attempts {
			return result, err
		}
		if sleepErr := r.sleep(ctx, r.backoff*time.Duration(attempt)); sleepErr != nil {
			return result, err
		}
	}
	return result, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
