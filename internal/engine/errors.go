package engine

import (
	"errors"
	"fmt"
)

// ErrAlreadyRun is returned when Run is called on an engine that has
// already been started.
var ErrAlreadyRun = errors.New("engine: already run")

// ErrInvalidRegistration marks construction errors reported by Build.
var ErrInvalidRegistration = errors.New("engine: invalid registration")

// SourceError reports the source that stopped the engine.
//
// Only one SourceError is ever reported per run. If several sources fail at
// about the same time, whichever failure the loop sees first wins and the
// others are dropped.
type SourceError struct {
	// Label is the name the source was registered under.
	Label string

	// Err is the error returned by the source.
	Err error
}

// Error implements the error interface.
func (e *SourceError) Error() string {
	return fmt.Sprintf("%s source error: %v", e.Label, e.Err)
}

// Unwrap returns the source's own error.
func (e *SourceError) Unwrap() error {
	return e.Err
}

// FailedSource returns the label of the source that caused err.
// Uses errors.As to handle wrapped errors.
func FailedSource(err error) (string, bool) {
	var se *SourceError
	if errors.As(err, &se) {
		return se.Label, true
	}
	return "", false
}

// PanicError wraps a value recovered from a panicking source.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("source panicked: %v", e.Value)
}

func registrationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRegistration, fmt.Sprintf(format, args...))
}
