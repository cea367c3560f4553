// Package optional provides a value that is either present or absent.
//
// It is used wherever "not found" is a legitimate outcome rather than an
// error: a remote read that hits a missing path returns None, not an error.
package optional

import (
	"encoding/json"
	"fmt"
)

// Option holds either a value of type T or nothing.
//
// The zero value is None.
type Option[T any] struct {
	v  T
	ok bool
}

// Some returns an Option holding v.
func Some[T any](v T) Option[T] {
	return Option[T]{v: v, ok: true}
}

// None returns an empty Option.
func None[T any]() Option[T] {
	return Option[T]{}
}

// IsSome reports whether a value is present.
func (o Option[T]) IsSome() bool {
	return o.ok
}

// IsNone reports whether the value is absent.
func (o Option[T]) IsNone() bool {
	return !o.ok
}

// Get returns the value and whether it is present.
func (o Option[T]) Get() (T, bool) {
	return o.v, o.ok
}

// OrZero returns the value, or the zero value of T when absent.
func (o Option[T]) OrZero() T {
	return o.v
}

// String implements fmt.Stringer.
func (o Option[T]) String() string {
	if !o.ok {
		return "None"
	}
	return fmt.Sprintf("Some(%v)", o.v)
}

// MarshalJSON encodes None as null and Some(v) as v.
func (o Option[T]) MarshalJSON() ([]byte, error) {
	if !o.ok {
		return []byte("null"), nil
	}
	return json.Marshal(o.v)
}
