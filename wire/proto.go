package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
)

// Proto is the type support for protobuf messages. The wire-native form is
// the protobuf encoding itself; views walk it in place.
type Proto[M proto.Message] struct {
	name string
}

func NewProto[M proto.Message]() Proto[M] {
	var zero M
	return Proto[M]{name: string(zero.ProtoReflect().Descriptor().FullName())}
}

func (p Proto[M]) TypeName() string { return p.name }

// View checks that buf is a well-formed sequence of protobuf fields.
func (p Proto[M]) View(buf []byte) (ProtoView, error) {
	for b := buf; len(b) > 0; {
		_, _, n := protowire.ConsumeField(b)
		if n < 0 {
			return ProtoView{}, fmt.Errorf("%w: %s: %v", ErrMalformed, p.name, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return ProtoView{b: buf}, nil
}

// Encode marshals m deterministically so equal messages give equal bytes.
func (p Proto[M]) Encode(m M) ([]byte, error) {
	return proto.MarshalOptions{Deterministic: true}.Marshal(m)
}

// ProtoView is a read-only view over protobuf wire bytes. Slices returned
// by its methods alias the underlying buffer and must not be written; only
// write-protected allocators turn such a write into a fault.
type ProtoView struct {
	b []byte
}

func (v ProtoView) Len() int      { return len(v.b) }
func (v ProtoView) Bytes() []byte { return v.b } // aliases; do not write

// Range calls fn for each field in encoding order with the field's raw value
// bytes (tag stripped). Range stops when fn returns false.
func (v ProtoView) Range(fn func(num protowire.Number, typ protowire.Type, raw []byte) bool) {
	for b := v.b; len(b) > 0; {
		num, typ, n := protowire.ConsumeTag(b)
		b = b[n:]
		m := protowire.ConsumeFieldValue(num, typ, b)
		if !fn(num, typ, b[:m]) {
			return
		}
		b = b[m:]
	}
}

// Field returns the raw value of the last occurrence of num, matching
// protobuf's last-one-wins rule for scalar fields.
func (v ProtoView) Field(num protowire.Number) (protowire.Type, []byte, bool) {
	var (
		typ   protowire.Type
		raw   []byte
		found bool
	)
	v.Range(func(n protowire.Number, t protowire.Type, r []byte) bool {
		if n == num {
			typ, raw, found = t, r, true
		}
		return true
	})
	return typ, raw, found
}

// Varint decodes field num as a varint.
func (v ProtoView) Varint(num protowire.Number) (uint64, bool) {
	typ, raw, ok := v.Field(num)
	if !ok || typ != protowire.VarintType {
		return 0, false
	}
	x, n := protowire.ConsumeVarint(raw)
	return x, n > 0
}

// BytesField returns the contents of a length-delimited field without copying.
func (v ProtoView) BytesField(num protowire.Number) ([]byte, bool) {
	typ, raw, ok := v.Field(num)
	if !ok || typ != protowire.BytesType {
		return nil, false
	}
	b, n := protowire.ConsumeBytes(raw)
	return b, n > 0
}

// Unmarshal decodes the view into m. The result is a copy and outlives the
// loan.
func (v ProtoView) Unmarshal(m proto.Message) error {
	return proto.Unmarshal(v.b, m)
}
