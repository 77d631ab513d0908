package fn

import "errors"

// ErrNilError marks a Result built with Err(nil).
var ErrNilError = errors.New("fn: Err called with nil error")

// Result carries either a value or an error through a stage.
type Result[T any] struct {
	val T
	err error
}

// Ok wraps a value.
func Ok[T any](v T) Result[T] {
	return Result[T]{val: v}
}

// Err wraps an error. A nil err is replaced by ErrNilError so the result
// still reports failure.
func Err[T any](err error) Result[T] {
	if err == nil {
		err = ErrNilError
	}
	return Result[T]{err: err}
}

// FromPair converts a (value, error) return into a Result.
func FromPair[T any](v T, err error) Result[T] {
	if err != nil {
		return Err[T](err)
	}
	return Ok(v)
}

func (r Result[T]) IsOk() bool   { return r.err == nil }
func (r Result[T]) IsErr() bool  { return r.err != nil }
func (r Result[T]) Error() error { return r.err }

// Unwrap returns the value and error.
func (r Result[T]) Unwrap() (T, error) { return r.val, r.err }
