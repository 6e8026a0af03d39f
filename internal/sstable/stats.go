package sstable

import (
	"bytes"
	"fmt"
	"time"

	"github.com/basekick-labs/bulkloader/internal/codec"
	"github.com/basekick-labs/bulkloader/internal/schema"
	"github.com/vmihailenco/msgpack/v5"
)

// Statistics is the msgpack document stored in Statistics.db.
// Clustering bounds hold the wire encoding of each clustering component;
// a nil element means the bound is null.
type Statistics struct {
	Version          int         `msgpack:"version"`
	Keyspace         string      `msgpack:"keyspace"`
	Table            string      `msgpack:"table"`
	Generation       int         `msgpack:"generation"`
	Partitioner      string      `msgpack:"partitioner"`
	Columns          []string    `msgpack:"columns"`
	Partitions       int64       `msgpack:"partitions"`
	Rows             int64       `msgpack:"rows"`
	MinToken         int64       `msgpack:"min_token"`
	MaxToken         int64       `msgpack:"max_token"`
	MinClustering    [][]byte    `msgpack:"min_clustering"`
	MaxClustering    [][]byte    `msgpack:"max_clustering"`
	UncompressedSize int64       `msgpack:"uncompressed_size"`
	CompressedSize   int64       `msgpack:"compressed_size"`
	Compression      Compression `msgpack:"compression"`
	ChunkLength      int         `msgpack:"chunk_length,omitempty"`
	IndexInterval    int         `msgpack:"index_interval"`
	CreatedAt        time.Time   `msgpack:"created_at"`
}

func (st *Statistics) marshal() ([]byte, error) {
	b, err := msgpack.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal statistics: %w", err)
	}
	return b, nil
}

func unmarshalStatistics(b []byte) (*Statistics, error) {
	var st Statistics
	if err := msgpack.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("%w: statistics: %v", ErrCorrupt, err)
	}
	if st.Version != statisticsVersion {
		return nil, corruptf("statistics: unsupported version %d", st.Version)
	}
	return &st, nil
}

// statsCollector tracks token and per-component clustering bounds while
// partitions are appended.
type statsCollector struct {
	schema     *schema.Schema
	partitions int64
	rows       int64
	minToken   int64
	maxToken   int64
	minValues  []any
	maxValues  []any
}

func newStatsCollector(s *schema.Schema) *statsCollector {
	n := len(s.ClusteringIndices())
	return &statsCollector{
		schema:    s,
		minValues: make([]any, n),
		maxValues: make([]any, n),
	}
}

func (c *statsCollector) addPartition(token int64, rows []schema.Row) {
	if c.partitions == 0 {
		c.minToken = token
	}
	c.maxToken = token
	c.partitions++

	for _, row := range rows {
		for j, idx := range c.schema.ClusteringIndices() {
			t := c.schema.Columns[idx].Type
			v := row[idx]
			if c.rows == 0 || schema.CompareValues(t, v, c.minValues[j]) < 0 {
				c.minValues[j] = v
			}
			if c.rows == 0 || schema.CompareValues(t, v, c.maxValues[j]) > 0 {
				c.maxValues[j] = v
			}
		}
		c.rows++
	}
}

func (c *statsCollector) encodeBounds(values []any) [][]byte {
	if c.rows == 0 {
		return nil
	}
	out := make([][]byte, len(values))
	for j, idx := range c.schema.ClusteringIndices() {
		if values[j] != nil {
			out[j] = codec.EncodeValue(c.schema.Columns[idx].Type, values[j])
		}
	}
	return out
}

// sameBounds compares two encoded bound lists. Empty and nil elements are
// indistinguishable after a msgpack round trip, so both count as equal.
func sameBounds(a, b [][]byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !bytes.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}
