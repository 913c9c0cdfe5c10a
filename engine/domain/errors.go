package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every error surfaced by the pipeline wraps exactly one of
// these so callers can classify it with errors.Is.
var (
	ErrNetwork       = errors.New("network error")
	ErrRateLimited   = errors.New("rate limited")
	ErrNotFound      = errors.New("not found")
	ErrParse         = errors.New("parse error")
	ErrDatabase      = errors.New("database error")
	ErrConfiguration = errors.New("configuration error")
	ErrLLM           = errors.New("llm error")
)

// Validation sentinels. They classify as ErrParse when they stem from
// model output.
var (
	ErrInvalidTopic   = errors.New("invalid topic")
	ErrMissingSummary = errors.New("missing topic summary")
	ErrInvalidQAPair  = errors.New("invalid qa pair")
	ErrInvalidSource  = errors.New("invalid source kind")
	ErrEmptyQuery     = errors.New("empty query")
)

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// Stage names a step of topic analysis.
type Stage string

const (
	StageFetch    Stage = "fetch"
	StageClean    Stage = "clean"
	StageLLM      Stage = "llm_call"
	StageParse    Stage = "parse"
	StageValidate Stage = "validate"
	StagePersist  Stage = "db_write"
)

// StageError reports the stage at which analysis of a topic stopped.
type StageError struct {
	TopicID int64
	Stage   Stage
	Err     error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("topic %d: %s: %v", e.TopicID, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// NewStageError creates a StageError.
func NewStageError(topicID int64, stage Stage, err error) *StageError {
	return &StageError{TopicID: topicID, Stage: stage, Err: err}
}

// StageOf returns the stage recorded in err, or "" if err carries none.
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// Kind returns the error-kind sentinel err wraps, or nil.
func Kind(err error) error {
	for _, k := range []error{ErrRateLimited, ErrNotFound, ErrNetwork, ErrParse, ErrDatabase, ErrConfiguration, ErrLLM} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
