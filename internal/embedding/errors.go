package embedding

import (
	"errors"
	"fmt"
)

// Kinds of LoadError. Use errors.Is to test which one occurred.
var (
	ErrMissingHeader       = errors.New("expected a header line with <number of vectors> <dimensionality>")
	ErrWrongHeader         = errors.New("expected header line to be in the format <number of vectors> <dimensionality>")
	ErrParseInt            = errors.New("failed to parse header element")
	ErrMissingWord         = errors.New("expected word at start of line")
	ErrParseFloat          = errors.New("failed to parse vector element")
	ErrWrongDimensionality = errors.New("vector has the wrong dimensionality")
	ErrMissingVectors      = errors.New("number of vectors does not match the header")
	ErrIO                  = errors.New("failed to read vectors")
)

// LoadError reports why an embedding resource could not be loaded.
type LoadError struct {
	Kind error
	// Line is the 1-based line the error was found on, 0 when not tied to a line.
	Line int
	// Expected and Actual are set for ErrWrongDimensionality and ErrMissingVectors.
	Expected int
	Actual   int
	// Err is the underlying cause, if any.
	Err error
}

func (e *LoadError) Error() string {
	var msg string
	switch e.Kind {
	case ErrWrongDimensionality:
		msg = fmt.Sprintf("expected a vector of dimensionality %d, got %d", e.Expected, e.Actual)
	case ErrMissingVectors:
		msg = fmt.Sprintf("expected to load %d vectors, found %d", e.Expected, e.Actual)
	default:
		msg = e.Kind.Error()
	}
	if e.Line > 0 {
		msg = fmt.Sprintf("line %d: %s", e.Line, msg)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *LoadError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
