// Package wire maps message types onto their wire-native representation:
// the exact bytes the middleware delivers. A TypeSupport turns a delivered
// buffer into a typed, read-only view without copying it.
package wire

import "errors"

var (
	ErrNotPointerFree = errors.New("type contains pointers")
	ErrEmptyLayout    = errors.New("type has zero size")
	ErrSizeMismatch   = errors.New("buffer size does not match layout")
	ErrMisaligned     = errors.New("buffer misaligned for layout")
	ErrMalformed      = errors.New("malformed wire encoding")
)

// TypeSupport binds a message type to its wire-native view type W.
// View must not copy buf; the returned W aliases it and is only valid as
// long as buf is.
type TypeSupport[W any] interface {
	TypeName() string
	View(buf []byte) (W, error)
}
