package codec

import (
	"fmt"

	"github.com/basekick-labs/bulkloader/internal/schema"
)

// AppendRowBody appends one cell per non-partition-key column, in schema order.
// Partition key columns live in the partition header and are not repeated per row.
func AppendRowBody(dst []byte, s *schema.Schema, row schema.Row) []byte {
	for _, i := range s.CellIndices() {
		dst = AppendCell(dst, s.Columns[i].Type, row[i])
	}
	return dst
}

// RowBodySize returns the length AppendRowBody would add.
func RowBodySize(s *schema.Schema, row schema.Row) int {
	size := 0
	for _, i := range s.CellIndices() {
		size += CellSize(s.Columns[i].Type, row[i])
	}
	return size
}

// DecodeRow rebuilds a full row from its partition key and row body.
func DecodeRow(s *schema.Schema, key, body []byte) (schema.Row, error) {
	row := make(schema.Row, len(s.Columns))
	if err := DecodePartitionKey(s, key, row); err != nil {
		return nil, err
	}
	for _, i := range s.CellIndices() {
		v, n, err := ReadCell(s.Columns[i].Type, body)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", s.Columns[i].Name, err)
		}
		row[i] = v
		body = body[n:]
	}
	if len(body) != 0 {
		return nil, fmt.Errorf("%d trailing bytes after row body", len(body))
	}
	return row, nil
}
