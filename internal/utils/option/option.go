package option

import (
	"encoding/json"
	"fmt"
)

// Option holds a value that may be absent. The zero value is None.
type Option[T any] struct {
	value   T
	present bool
}

func Some[T any](value T) Option[T] {
	return Option[T]{value: value, present: true}
}

func None[T any]() Option[T] {
	return Option[T]{}
}

func (o Option[T]) IsNone() bool {
	return !o.present
}

func (o Option[T]) IsSome() bool {
	return o.present
}

// Get returns the value. Panics on None.
func (o Option[T]) Get() T {
	if !o.present {
		panic("option: Get on None")
	}
	return o.value
}

// GetOrElse returns the value, or fallback on None.
func (o Option[T]) GetOrElse(fallback T) T {
	if !o.present {
		return fallback
	}
	return o.value
}

func (o Option[T]) String() string {
	if !o.present {
		return "None"
	}
	return fmt.Sprintf("Some(%v)", o.value)
}

// MarshalJSON encodes None as null and Some as its value.
func (o Option[T]) MarshalJSON() ([]byte, error) {
	if !o.present {
		return []byte("null"), nil
	}
	return json.Marshal(o.value)
}
