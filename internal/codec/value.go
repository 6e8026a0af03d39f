package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/basekick-labs/bulkloader/internal/schema"
)

// Value wire formats follow the store's native protocol:
//
//	int      4 bytes big-endian
//	bigint   8 bytes big-endian
//	float    4 bytes IEEE-754 big-endian
//	boolean  1 byte, 0 or 1
//	text     raw UTF-8 bytes
//	list<T>  int32 element count, then per element an int32 length and the element bytes
//
// A cell is an int32 length followed by the value bytes; length -1 marks null.

// ErrTruncated is returned when an encoded value ends early.
var ErrTruncated = errors.New("codec: truncated input")

const nullLength = -1

// AppendValue appends the wire encoding of a non-null value.
func AppendValue(dst []byte, t schema.Type, v any) []byte {
	switch t.Kind {
	case schema.KindInt:
		return binary.BigEndian.AppendUint32(dst, uint32(v.(int32)))
	case schema.KindBigInt:
		return binary.BigEndian.AppendUint64(dst, uint64(v.(int64)))
	case schema.KindFloat:
		return binary.BigEndian.AppendUint32(dst, math.Float32bits(v.(float32)))
	case schema.KindBoolean:
		if v.(bool) {
			return append(dst, 1)
		}
		return append(dst, 0)
	case schema.KindText:
		return append(dst, v.(string)...)
	case schema.KindList:
		return appendList(dst, t.ElemType(), v)
	}
	panic(fmt.Sprintf("codec: unsupported type %s", t))
}

// EncodeValue returns the wire encoding of a non-null value.
func EncodeValue(t schema.Type, v any) []byte {
	return AppendValue(nil, t, v)
}

// ValueSize returns the encoded length of a non-null value.
func ValueSize(t schema.Type, v any) int {
	switch t.Kind {
	case schema.KindInt, schema.KindFloat:
		return 4
	case schema.KindBigInt:
		return 8
	case schema.KindBoolean:
		return 1
	case schema.KindText:
		return len(v.(string))
	case schema.KindList:
		elem := t.ElemType()
		size := 4
		forEach(v, func(e any) {
			size += 4 + ValueSize(elem, e)
		})
		return size
	}
	return 0
}

func appendList(dst []byte, elem schema.Type, v any) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(listLen(v)))
	forEach(v, func(e any) {
		dst = binary.BigEndian.AppendUint32(dst, uint32(ValueSize(elem, e)))
		dst = AppendValue(dst, elem, e)
	})
	return dst
}

// DecodeValue decodes a complete non-null value.
func DecodeValue(t schema.Type, b []byte) (any, error) {
	switch t.Kind {
	case schema.KindInt:
		if len(b) != 4 {
			return nil, fmt.Errorf("int value must be 4 bytes, got %d", len(b))
		}
		return int32(binary.BigEndian.Uint32(b)), nil
	case schema.KindBigInt:
		if len(b) != 8 {
			return nil, fmt.Errorf("bigint value must be 8 bytes, got %d", len(b))
		}
		return int64(binary.BigEndian.Uint64(b)), nil
	case schema.KindFloat:
		if len(b) != 4 {
			return nil, fmt.Errorf("float value must be 4 bytes, got %d", len(b))
		}
		return math.Float32frombits(binary.BigEndian.Uint32(b)), nil
	case schema.KindBoolean:
		if len(b) != 1 {
			return nil, fmt.Errorf("boolean value must be 1 byte, got %d", len(b))
		}
		return b[0] != 0, nil
	case schema.KindText:
		return string(b), nil
	case schema.KindList:
		return decodeList(t.ElemType(), b)
	}
	return nil, fmt.Errorf("codec: unsupported type %s", t)
}

func decodeList(elem schema.Type, b []byte) (any, error) {
	if len(b) < 4 {
		return nil, ErrTruncated
	}
	n := int(int32(binary.BigEndian.Uint32(b)))
	if n < 0 {
		return nil, fmt.Errorf("negative list length %d", n)
	}
	b = b[4:]
	values := make([]any, 0, n)
	for i := 0; i < n; i++ {
		if len(b) < 4 {
			return nil, ErrTruncated
		}
		size := int(int32(binary.BigEndian.Uint32(b)))
		b = b[4:]
		if size < 0 || size > len(b) {
			return nil, ErrTruncated
		}
		v, err := DecodeValue(elem, b[:size])
		if err != nil {
			return nil, fmt.Errorf("list element %d: %w", i, err)
		}
		values = append(values, v)
		b = b[size:]
	}
	if len(b) != 0 {
		return nil, fmt.Errorf("%d trailing bytes after list", len(b))
	}
	return makeList(elem, values), nil
}

// AppendCell appends a length-prefixed cell; nil is written as a null cell.
func AppendCell(dst []byte, t schema.Type, v any) []byte {
	if v == nil {
		return binary.BigEndian.AppendUint32(dst, uint32(0xffffffff))
	}
	dst = binary.BigEndian.AppendUint32(dst, uint32(ValueSize(t, v)))
	return AppendValue(dst, t, v)
}

// CellSize returns the encoded length of a cell including its prefix.
func CellSize(t schema.Type, v any) int {
	if v == nil {
		return 4
	}
	return 4 + ValueSize(t, v)
}

// ReadCell decodes one cell from the front of b and returns the bytes consumed.
func ReadCell(t schema.Type, b []byte) (any, int, error) {
	if len(b) < 4 {
		return nil, 0, ErrTruncated
	}
	size := int(int32(binary.BigEndian.Uint32(b)))
	if size == nullLength {
		return nil, 4, nil
	}
	if size < 0 || size > len(b)-4 {
		return nil, 0, ErrTruncated
	}
	v, err := DecodeValue(t, b[4:4+size])
	if err != nil {
		return nil, 0, err
	}
	return v, 4 + size, nil
}

func listLen(v any) int {
	switch l := v.(type) {
	case []int32:
		return len(l)
	case []int64:
		return len(l)
	case []float32:
		return len(l)
	case []bool:
		return len(l)
	case []string:
		return len(l)
	}
	return 0
}

func forEach(v any, fn func(any)) {
	switch l := v.(type) {
	case []int32:
		for _, e := range l {
			fn(e)
		}
	case []int64:
		for _, e := range l {
			fn(e)
		}
	case []float32:
		for _, e := range l {
			fn(e)
		}
	case []bool:
		for _, e := range l {
			fn(e)
		}
	case []string:
		for _, e := range l {
			fn(e)
		}
	}
}

// makeList converts decoded elements to the typed slice for elem.
// The result is never nil so an empty list stays distinct from null.
func makeList(elem schema.Type, values []any) any {
	switch elem.Kind {
	case schema.KindInt:
		out := make([]int32, len(values))
		for i, v := range values {
			out[i] = v.(int32)
		}
		return out
	case schema.KindBigInt:
		out := make([]int64, len(values))
		for i, v := range values {
			out[i] = v.(int64)
		}
		return out
	case schema.KindFloat:
		out := make([]float32, len(values))
		for i, v := range values {
			out[i] = v.(float32)
		}
		return out
	case schema.KindBoolean:
		out := make([]bool, len(values))
		for i, v := range values {
			out[i] = v.(bool)
		}
		return out
	default:
		out := make([]string, len(values))
		for i, v := range values {
			out[i] = v.(string)
		}
		return out
	}
}
