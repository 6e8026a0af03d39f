package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/basekick-labs/bulkloader/internal/schema"
)

// MaxKeySize is the largest partition key the on-disk format can carry.
const MaxKeySize = math.MaxUint16

// ErrNullKey is returned for a row whose partition key has a null component.
var ErrNullKey = errors.New("partition key component is null")

// PartitionKey serializes the partition key columns of row.
//
// A single-column key is the column's value bytes. A composite key is, per component,
// a uint16 big-endian length, the value bytes and a 0x00 end-of-component byte.
// Null components are rejected with ErrNullKey; an empty text value is a valid
// key and encodes to the empty byte string.
func PartitionKey(s *schema.Schema, row schema.Row) ([]byte, error) {
	idx := s.PartitionIndices()
	for _, i := range idx {
		if row[i] == nil {
			return nil, fmt.Errorf("column %q: %w", s.Columns[i].Name, ErrNullKey)
		}
	}
	if len(idx) == 1 {
		col := s.Columns[idx[0]]
		v := row[idx[0]]
		key := EncodeValue(col.Type, v)
		if len(key) > MaxKeySize {
			return nil, fmt.Errorf("partition key column %q is %d bytes, limit is %d", col.Name, len(key), MaxKeySize)
		}
		return key, nil
	}

	size := 0
	for _, i := range idx {
		size += ValueSize(s.Columns[i].Type, row[i]) + 3
	}
	if size > MaxKeySize {
		return nil, fmt.Errorf("composite partition key is %d bytes, limit is %d", size, MaxKeySize)
	}

	key := make([]byte, 0, size)
	for _, i := range idx {
		component := EncodeValue(s.Columns[i].Type, row[i])
		key = binary.BigEndian.AppendUint16(key, uint16(len(component)))
		key = append(key, component...)
		key = append(key, 0)
	}
	return key, nil
}

// DecodePartitionKey writes the partition key columns encoded in key into row.
// An empty component decodes as "" for text columns and null otherwise.
func DecodePartitionKey(s *schema.Schema, key []byte, row schema.Row) error {
	idx := s.PartitionIndices()
	if len(idx) == 1 {
		v, err := decodeComponent(s.Columns[idx[0]].Type, key)
		if err != nil {
			return fmt.Errorf("partition key column %q: %w", s.Columns[idx[0]].Name, err)
		}
		row[idx[0]] = v
		return nil
	}

	b := key
	for _, i := range idx {
		if len(b) < 2 {
			return ErrTruncated
		}
		size := int(binary.BigEndian.Uint16(b))
		b = b[2:]
		if size+1 > len(b) {
			return ErrTruncated
		}
		v, err := decodeComponent(s.Columns[i].Type, b[:size])
		if err != nil {
			return fmt.Errorf("partition key column %q: %w", s.Columns[i].Name, err)
		}
		row[i] = v
		b = b[size+1:]
	}
	if len(b) != 0 {
		return fmt.Errorf("%d trailing bytes after composite key", len(b))
	}
	return nil
}

func decodeComponent(t schema.Type, b []byte) (any, error) {
	if len(b) == 0 {
		if t.Kind == schema.KindText {
			return "", nil
		}
		return nil, nil
	}
	return DecodeValue(t, b)
}
