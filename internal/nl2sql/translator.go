package nl2sql

import (
	"context"
	"fmt"
)

type Request struct {
	Prompt string `json:"prompt"`
}

type Result struct {
	SQL      string `json:"sql"`
	Raw      string `json:"raw"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

type Translator interface {
	Translate(ctx context.Context, req Request) (Result, error)
}

const (
	ReasonTransport = "transport"
	ReasonTimeout   = "timeout"
	ReasonStatus    = "status"
	ReasonDecode    = "decode"
	ReasonEmpty     = "empty_completion"
)

// GenerationError reports that no usable completion came back from the
// generation service.
type GenerationError struct {
	Reason     string
	StatusCode int
	Err        error
}

func (e *GenerationError) Error() string {
	msg := "sql generation failed (" + e.Reason + ")"
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" status=%d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GenerationError) Unwrap() error { return e.Err }

func (e *GenerationError) Timeout() bool { return e.Reason == ReasonTimeout }

// NoStatementFoundError means the completion arrived but held nothing that
// starts like a SQL statement.
type NoStatementFoundError struct {
	Completion string
}

func (e *NoStatementFoundError) Error() string {
	return "no sql statement found in completion"
}
