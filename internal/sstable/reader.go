package sstable

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/basekick-labs/bulkloader/internal/codec"
	"github.com/basekick-labs/bulkloader/internal/partitioner"
	"github.com/basekick-labs/bulkloader/internal/schema"
	"github.com/basekick-labs/bulkloader/internal/storage"
)

var requiredComponents = []Component{
	ComponentData,
	ComponentIndex,
	ComponentSummary,
	ComponentStatistics,
	ComponentFilter,
	ComponentDigest,
	ComponentTOC,
}

// dataSource serves ranges of the uncompressed Data.db stream.
type dataSource interface {
	size() int64
	readAt(pos int64, n int) ([]byte, error)
}

type plainData []byte

func (d plainData) size() int64 { return int64(len(d)) }

func (d plainData) readAt(pos int64, n int) ([]byte, error) {
	if pos < 0 || n < 0 || pos+int64(n) > int64(len(d)) {
		return nil, corruptf("read of %d bytes at %d past data length %d", n, pos, len(d))
	}
	return d[pos : pos+int64(n)], nil
}

// Reader gives read access to one complete generation. The small components
// are loaded by Open; Index.db and Data.db are loaded on first use.
type Reader struct {
	backend     storage.Backend
	schema      *schema.Schema
	desc        Descriptor
	components  []Component
	stats       *Statistics
	summary     *Summary
	filter      *BloomFilter
	compression *CompressionInfo

	index   []byte
	rawData []byte
	data    dataSource
}

// Open reads the TOC and metadata components of a generation. A generation
// without a TOC is reported as storage.ErrNotFound.
func Open(ctx context.Context, backend storage.Backend, s *schema.Schema, desc Descriptor) (*Reader, error) {
	r := &Reader{backend: backend, schema: s, desc: desc}

	toc, err := backend.Read(ctx, desc.Path(ComponentTOC))
	if err != nil {
		return nil, fmt.Errorf("failed to read TOC of %s: %w", desc, err)
	}
	for _, line := range strings.Split(string(toc), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			r.components = append(r.components, Component(line))
		}
	}
	for _, c := range requiredComponents {
		if !r.Has(c) {
			return nil, corruptf("%s: TOC does not list %s", desc, c)
		}
	}

	statsBytes, err := r.read(ctx, ComponentStatistics)
	if err != nil {
		return nil, err
	}
	if r.stats, err = unmarshalStatistics(statsBytes); err != nil {
		return nil, err
	}
	if !slices.Equal(r.stats.Columns, s.ColumnNames()) {
		return nil, corruptf("%s: written with columns %v, schema has %v", desc, r.stats.Columns, s.ColumnNames())
	}

	summaryBytes, err := r.read(ctx, ComponentSummary)
	if err != nil {
		return nil, err
	}
	r.summary = &Summary{}
	if err := r.summary.UnmarshalBinary(summaryBytes); err != nil {
		return nil, err
	}

	filterBytes, err := r.read(ctx, ComponentFilter)
	if err != nil {
		return nil, err
	}
	r.filter = &BloomFilter{}
	if err := r.filter.UnmarshalBinary(filterBytes); err != nil {
		return nil, err
	}

	if r.Has(ComponentCompressionInfo) {
		infoBytes, err := r.read(ctx, ComponentCompressionInfo)
		if err != nil {
			return nil, err
		}
		r.compression = &CompressionInfo{}
		if err := r.compression.UnmarshalBinary(infoBytes); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Reader) read(ctx context.Context, c Component) ([]byte, error) {
	b, err := r.backend.Read(ctx, r.desc.Path(c))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", r.desc.FileName(c), err)
	}
	return b, nil
}

// Descriptor returns the generation this reader serves.
func (r *Reader) Descriptor() Descriptor { return r.desc }

// Statistics returns the decoded Statistics.db.
func (r *Reader) Statistics() *Statistics { return r.stats }

// Components returns the TOC in written order.
func (r *Reader) Components() []Component { return r.components }

// Has reports whether the TOC lists c.
func (r *Reader) Has(c Component) bool { return slices.Contains(r.components, c) }

func (r *Reader) loadIndex(ctx context.Context) ([]byte, error) {
	if r.index != nil {
		return r.index, nil
	}
	index, err := r.read(ctx, ComponentIndex)
	if err != nil {
		return nil, err
	}
	r.index = index
	return index, nil
}

func (r *Reader) loadData(ctx context.Context) (dataSource, error) {
	if r.data != nil {
		return r.data, nil
	}
	raw, err := r.read(ctx, ComponentData)
	if err != nil {
		return nil, err
	}
	r.rawData = raw
	if r.compression != nil {
		r.data = newChunkReader(r.compression, raw)
	} else {
		r.data = plainData(raw)
	}
	return r.data, nil
}

// readPartition decodes the partition at pos and returns the position after it.
func (r *Reader) readPartition(src dataSource, pos int64) (Partition, int64, error) {
	head, err := src.readAt(pos, 2)
	if err != nil {
		return Partition{}, 0, err
	}
	keyLen := int(binary.BigEndian.Uint16(head))
	pos += 2

	head, err = src.readAt(pos, keyLen+12)
	if err != nil {
		return Partition{}, 0, err
	}
	p := Partition{
		Key:   bytes.Clone(head[:keyLen]),
		Token: int64(binary.BigEndian.Uint64(head[keyLen:])),
	}
	count := int(binary.BigEndian.Uint32(head[keyLen+8:]))
	pos += int64(keyLen + 12)
	if count == 0 {
		return Partition{}, 0, corruptf("partition at %d has no rows", pos)
	}

	p.Rows = make([]schema.Row, 0, min(count, 1024))
	for range count {
		lenBytes, err := src.readAt(pos, 4)
		if err != nil {
			return Partition{}, 0, err
		}
		bodyLen := int(binary.BigEndian.Uint32(lenBytes))
		body, err := src.readAt(pos+4, bodyLen)
		if err != nil {
			return Partition{}, 0, err
		}
		row, err := codec.DecodeRow(r.schema, p.Key, body)
		if err != nil {
			return Partition{}, 0, fmt.Errorf("%w: row at %d: %v", ErrCorrupt, pos, err)
		}
		p.Rows = append(p.Rows, row)
		pos += int64(4 + bodyLen)
	}
	return p, pos, nil
}

// Scan calls fn for every partition in Data.db order. Returning an error
// from fn stops the scan and returns that error.
func (r *Reader) Scan(ctx context.Context, fn func(Partition) error) error {
	src, err := r.loadData(ctx)
	if err != nil {
		return err
	}
	for pos := int64(0); pos < src.size(); {
		if err := ctx.Err(); err != nil {
			return err
		}
		p, next, err := r.readPartition(src, pos)
		if err != nil {
			return err
		}
		if err := fn(p); err != nil {
			return err
		}
		pos = next
	}
	return nil
}

// Get returns the partition stored under (token, key), consulting the bloom
// filter and the summary before touching Index.db.
func (r *Reader) Get(ctx context.Context, token int64, key []byte) (*Partition, error) {
	if !r.filter.MayContain(key) {
		return nil, ErrNotFound
	}
	start, end, ok := r.summary.indexRange(token, key)
	if !ok {
		return nil, ErrNotFound
	}
	index, err := r.loadIndex(ctx)
	if err != nil {
		return nil, err
	}
	if end > int64(len(index)) || start > end {
		return nil, corruptf("summary points at index range [%d, %d) of %d bytes", start, end, len(index))
	}

	for b := index[start:end]; len(b) > 0; {
		e, n, err := readIndexEntry(b)
		if err != nil {
			return nil, err
		}
		b = b[n:]
		switch cmp := partitioner.CompareKeys(e.Token, e.Key, token, key); {
		case cmp < 0:
			continue
		case cmp > 0:
			return nil, ErrNotFound
		}

		src, err := r.loadData(ctx)
		if err != nil {
			return nil, err
		}
		p, _, err := r.readPartition(src, e.Position)
		if err != nil {
			return nil, err
		}
		if p.Token != token || !bytes.Equal(p.Key, key) {
			return nil, corruptf("index entry for token %d points at partition with token %d", token, p.Token)
		}
		return &p, nil
	}
	return nil, ErrNotFound
}

// VerifyResult summarizes a successful Verify.
type VerifyResult struct {
	Partitions int64
	Rows       int64
	Digest     string
}

// Verify re-reads the whole generation and checks the digest, the partition
// and clustering order, the index, the bloom filter and the statistics.
// Every mismatch wraps ErrCorrupt.
func (r *Reader) Verify(ctx context.Context) (*VerifyResult, error) {
	src, err := r.loadData(ctx)
	if err != nil {
		return nil, err
	}

	digestFile, err := r.read(ctx, ComponentDigest)
	if err != nil {
		return nil, err
	}
	digest := digestOf(r.rawData)
	if want := strings.TrimSpace(string(digestFile)); want != digest {
		return nil, corruptf("%s: Data.db digest %s, Digest.xxh64 says %s", r.desc, digest, want)
	}
	if r.stats.CompressedSize != int64(len(r.rawData)) {
		return nil, corruptf("%s: Data.db is %d bytes, statistics say %d", r.desc, len(r.rawData), r.stats.CompressedSize)
	}
	if src.size() != r.stats.UncompressedSize {
		return nil, corruptf("%s: uncompressed data is %d bytes, statistics say %d", r.desc, src.size(), r.stats.UncompressedSize)
	}

	index, err := r.loadIndex(ctx)
	if err != nil {
		return nil, err
	}

	collector := newStatsCollector(r.schema)
	var prev *Partition
	err = r.Scan(ctx, func(p Partition) error {
		n := collector.partitions
		if prev != nil && partitioner.CompareKeys(prev.Token, prev.Key, p.Token, p.Key) >= 0 {
			return corruptf("partition %d (token %d) is not after token %d", n, p.Token, prev.Token)
		}
		for i := 1; i < len(p.Rows); i++ {
			if r.schema.CompareClustering(p.Rows[i-1], p.Rows[i]) >= 0 {
				return corruptf("partition %d (token %d): rows %d and %d out of clustering order", n, p.Token, i-1, i)
			}
		}

		e, size, err := readIndexEntry(index)
		if err != nil {
			return fmt.Errorf("index entry %d: %w", n, err)
		}
		index = index[size:]
		if e.Token != p.Token || !bytes.Equal(e.Key, p.Key) {
			return corruptf("index entry %d does not match partition (token %d)", n, p.Token)
		}
		if !r.filter.MayContain(p.Key) {
			return corruptf("bloom filter is missing partition %d (token %d)", n, p.Token)
		}

		collector.addPartition(p.Token, p.Rows)
		prev = &p
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(index) != 0 {
		return nil, corruptf("%s: %d index bytes left after the last partition", r.desc, len(index))
	}

	st := r.stats
	switch {
	case collector.partitions != st.Partitions:
		return nil, corruptf("%s: %d partitions, statistics say %d", r.desc, collector.partitions, st.Partitions)
	case collector.rows != st.Rows:
		return nil, corruptf("%s: %d rows, statistics say %d", r.desc, collector.rows, st.Rows)
	case collector.minToken != st.MinToken || collector.maxToken != st.MaxToken:
		return nil, corruptf("%s: token range [%d, %d], statistics say [%d, %d]",
			r.desc, collector.minToken, collector.maxToken, st.MinToken, st.MaxToken)
	case !sameBounds(collector.encodeBounds(collector.minValues), st.MinClustering),
		!sameBounds(collector.encodeBounds(collector.maxValues), st.MaxClustering):
		return nil, corruptf("%s: clustering bounds differ from statistics", r.desc)
	}

	return &VerifyResult{
		Partitions: collector.partitions,
		Rows:       collector.rows,
		Digest:     digest,
	}, nil
}

// IsCorrupt reports whether err was caused by malformed generation bytes.
func IsCorrupt(err error) bool {
	return errors.Is(err, ErrCorrupt)
}
