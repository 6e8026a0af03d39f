package writer

import (
	"slices"

	"github.com/basekick-labs/bulkloader/internal/codec"
	"github.com/basekick-labs/bulkloader/internal/partitioner"
	"github.com/basekick-labs/bulkloader/internal/schema"
	"github.com/basekick-labs/bulkloader/internal/sstable"
)

// Fixed per-row and per-partition overhead of the Data.db layout, used for
// the FlushBytes estimate.
const (
	rowOverhead       = 4
	partitionOverhead = 2 + 8 + 4
)

// buffer holds rows until the next flush. Partitions are keyed by their key
// bytes so rows with colliding tokens stay separate.
type buffer struct {
	partitions map[string]*sstable.Partition
	order      []*sstable.Partition
	rows       int
	bytes      int64
}

func newBuffer() *buffer {
	return &buffer{partitions: make(map[string]*sstable.Partition)}
}

func (b *buffer) add(s *schema.Schema, token int64, key []byte, row schema.Row) {
	p, ok := b.partitions[string(key)]
	if !ok {
		p = &sstable.Partition{Token: token, Key: key}
		b.partitions[string(key)] = p
		b.order = append(b.order, p)
		b.bytes += int64(partitionOverhead + len(key))
	}
	p.Rows = append(p.Rows, row)
	b.rows++
	b.bytes += int64(rowOverhead + codec.RowBodySize(s, row))
}

func (b *buffer) empty() bool { return b.rows == 0 }

// sorted returns the partitions ordered by (token, key) with each partition's
// rows in clustering order. Rows with equal clustering keys collapse to the
// one added last. When presorted is set the arrival order is already final.
func (b *buffer) sorted(s *schema.Schema, presorted bool) []sstable.Partition {
	parts := make([]sstable.Partition, len(b.order))
	for i, p := range b.order {
		parts[i] = *p
	}
	if presorted {
		return parts
	}

	slices.SortFunc(parts, func(a, b sstable.Partition) int {
		return partitioner.CompareKeys(a.Token, a.Key, b.Token, b.Key)
	})
	for i := range parts {
		rows := parts[i].Rows
		slices.SortStableFunc(rows, s.CompareClustering)
		parts[i].Rows = lastWins(s, rows)
	}
	return parts
}

// lastWins drops every row followed by one with the same clustering key.
func lastWins(s *schema.Schema, rows []schema.Row) []schema.Row {
	out := rows[:0]
	for i, row := range rows {
		if i+1 < len(rows) && s.CompareClustering(row, rows[i+1]) == 0 {
			continue
		}
		out = append(out, row)
	}
	return out
}
