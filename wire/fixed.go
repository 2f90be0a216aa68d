package wire

import (
	"bytes"
	"fmt"
	"reflect"
	"unsafe"
)

// Fixed is the type support for pointer-free, fixed-layout structs whose
// in-memory layout is the wire format. Views alias the buffer as *T.
type Fixed[T any] struct {
	name  string
	size  int
	align uintptr
}

// NewFixed validates that T can be reinterpreted from raw bytes.
func NewFixed[T any]() (Fixed[T], error) {
	t := reflect.TypeFor[T]()
	if !pointerFree(t) {
		return Fixed[T]{}, fmt.Errorf("%w: %s", ErrNotPointerFree, t)
	}
	if t.Size() == 0 {
		return Fixed[T]{}, fmt.Errorf("%w: %s", ErrEmptyLayout, t)
	}
	return Fixed[T]{
		name:  t.String(),
		size:  int(t.Size()),
		align: uintptr(t.Align()),
	}, nil
}

// MustFixed is NewFixed for package-level declarations.
func MustFixed[T any]() Fixed[T] {
	f, err := NewFixed[T]()
	if err != nil {
		panic(err)
	}
	return f
}

func (f Fixed[T]) TypeName() string { return f.name }
func (f Fixed[T]) Size() int        { return f.size }

// View reinterprets buf as *T. The result aliases buf and is read-only by
// contract; nothing in the type prevents a write.
func (f Fixed[T]) View(buf []byte) (*T, error) {
	if len(buf) != f.size {
		return nil, fmt.Errorf("%w: %s needs %d bytes, got %d", ErrSizeMismatch, f.name, f.size, len(buf))
	}
	p := unsafe.Pointer(unsafe.SliceData(buf))
	if uintptr(p)%f.align != 0 {
		return nil, fmt.Errorf("%w: %s needs %d-byte alignment", ErrMisaligned, f.name, f.align)
	}
	return (*T)(p), nil
}

// Encode returns the wire-native bytes of v.
func (f Fixed[T]) Encode(v *T) []byte {
	return bytes.Clone(unsafe.Slice((*byte)(unsafe.Pointer(v)), f.size))
}

func pointerFree(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return true
	case reflect.Array:
		return pointerFree(t.Elem())
	case reflect.Struct:
		for i := range t.NumField() {
			if !pointerFree(t.Field(i).Type) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
