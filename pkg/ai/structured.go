package ai

import (
	"context"
	"errors"
	"fmt"
)

// ErrInvalidStructuredOutput marks model output that decoded but failed
// validation.
var ErrInvalidStructuredOutput = errors.New("invalid structured output")

// Validator is implemented by structured payloads that can check their own
// invariants after decoding.
type Validator interface {
	Validate() error
}

// StructuredResult is either a decoded and validated payload (Ok) or the
// reason there is none (Err). Exactly one of the two is set.
type StructuredResult[T any] struct {
	Ok  *T
	Err error
}

// Unwrap returns the payload or the error.
func (r StructuredResult[T]) Unwrap() (*T, error) {
	return r.Ok, r.Err
}

// GenerateStructured asks g for a completion constrained to the JSON schema
// of T, decodes it and runs T's Validate method when present.
func GenerateStructured[T any](
	ctx context.Context,
	g Generator,
	name string,
	description string,
	prompt string,
	opts ...GenerateOption,
) StructuredResult[T] {
	out := new(T)
	if err := g.GenerateCompletionWithFormat(ctx, name, description, prompt, out, opts...); err != nil {
		return StructuredResult[T]{Err: fmt.Errorf("%s: %w", name, err)}
	}

	if v, ok := any(out).(Validator); ok {
		if err := v.Validate(); err != nil {
			return StructuredResult[T]{Err: fmt.Errorf("%s: %w: %w", name, ErrInvalidStructuredOutput, err)}
		}
	}
	return StructuredResult[T]{Ok: out}
}
