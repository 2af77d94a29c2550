package responder

import (
	"errors"
	"fmt"
)

// Per-call outcomes. They are returned unwrapped and leave the store usable.
var (
	// ErrNoPromptVector means none of the prompt's words have an embedding.
	ErrNoPromptVector = errors.New("no word of the prompt has an embedding")
	// ErrNoResponses means the index is empty.
	ErrNoResponses = errors.New("no responses have been learned yet")
	// ErrMissingResponses means the nearest indexed key has no stored bucket.
	// It indicates drift between the index and the response table.
	ErrMissingResponses = errors.New("nearest prompt has no stored responses")
)

// Kinds of Error. Use errors.Is to test which one occurred.
var (
	ErrEmbeddingLoad = errors.New("failed to load embeddings")
	ErrDatabase      = errors.New("response table failure")
	ErrSerialization = errors.New("stored data could not be decoded")
	ErrIndex         = errors.New("nearest neighbour index failure")
	// ErrPoisoned is returned by every call after an index failure left the
	// index and the response table out of step.
	ErrPoisoned = errors.New("response store is poisoned")
)

// Error is a storage, serialization or index failure of a Store operation.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
