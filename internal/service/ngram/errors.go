package ngram

import (
	"errors"
	"fmt"
)

// ErrEmptyInput is matched by EmptyInputError via errors.Is.
var ErrEmptyInput = errors.New("empty input")

// ErrFrozen is returned when counts are added to a store after Freeze.
var ErrFrozen = errors.New("count store is frozen")

// ConfigurationError reports an invalid model configuration or an unusable
// training corpus. No model is built when it is returned.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration error: " + e.Reason
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// UnknownTokenError is returned by scoring when a token is outside the
// training vocabulary and unknown handling is disabled. Line and Position
// are zero-based.
type UnknownTokenError struct {
	Token    string
	Line     int
	Position int
}

func (e *UnknownTokenError) Error() string {
	return fmt.Sprintf("unknown token %q at line %d, position %d", e.Token, e.Line, e.Position)
}

// EmptyInputError is returned when a scoring input holds no tokens, so
// cross-entropy is undefined.
type EmptyInputError struct {
	Lines int
}

func (e *EmptyInputError) Error() string {
	return fmt.Sprintf("empty input: no tokens in %d line(s)", e.Lines)
}

func (e *EmptyInputError) Is(target error) bool {
	return target == ErrEmptyInput
}

// NonConvergenceError is returned together with the best vector found when
// parameter estimation runs out of its iteration budget. It is a warning:
// callers may keep using Best.
type NonConvergenceError struct {
	Iterations int
	Objective  float64
	Best       ParamVector
	Status     string
}

func (e *NonConvergenceError) Error() string {
	return fmt.Sprintf("parameter estimation did not converge after %d iterations (status %s, objective %.6f)",
		e.Iterations, e.Status, e.Objective)
}
