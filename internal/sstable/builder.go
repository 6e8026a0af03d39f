package sstable

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/basekick-labs/bulkloader/internal/codec"
	"github.com/basekick-labs/bulkloader/internal/partitioner"
	"github.com/basekick-labs/bulkloader/internal/schema"
	"github.com/basekick-labs/bulkloader/internal/storage"
	"github.com/cespare/xxhash/v2"
)

// Partition is one partition key with its clustering rows, in clustering order.
type Partition struct {
	Token int64
	Key   []byte
	Rows  []schema.Row
}

// Options controls how a generation is laid out.
type Options struct {
	IndexInterval      int
	Compression        Compression
	ChunkSize          int
	BloomFPChance      float64
	Partitioner        string
	Parquet            bool
	ParquetCompression string
}

func (o Options) withDefaults() Options {
	if o.IndexInterval <= 0 {
		o.IndexInterval = DefaultIndexInterval
	}
	if o.Compression == "" {
		o.Compression = CompressionNone
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.BloomFPChance <= 0 || o.BloomFPChance >= 1 {
		o.BloomFPChance = 0.01
	}
	if o.Partitioner == "" {
		o.Partitioner = partitioner.Murmur3.Name()
	}
	return o
}

// File is one encoded component.
type File struct {
	Component Component
	Data      []byte
}

// FileSet is a finished generation held in memory, ready to be written.
// Files are in write order with the TOC last.
type FileSet struct {
	Descriptor Descriptor
	Files      []File
	Statistics *Statistics
	Digest     string
}

// Components lists the component names in write order.
func (fs *FileSet) Components() []Component {
	comps := make([]Component, len(fs.Files))
	for i, f := range fs.Files {
		comps[i] = f.Component
	}
	return comps
}

// Size returns the total bytes across all components.
func (fs *FileSet) Size() int64 {
	var n int64
	for _, f := range fs.Files {
		n += int64(len(f.Data))
	}
	return n
}

// Write stores every component through backend, TOC last. A failure leaves
// the generation without a TOC, which marks it incomplete.
func (fs *FileSet) Write(ctx context.Context, backend storage.Backend) error {
	for _, f := range fs.Files {
		p := fs.Descriptor.Path(f.Component)
		if err := backend.WriteReader(ctx, p, bytes.NewReader(f.Data), int64(len(f.Data))); err != nil {
			return fmt.Errorf("failed to write %s: %w", p, err)
		}
	}
	return nil
}

// Builder serializes partitions, which must arrive in strictly increasing
// (token, key) order, into a FileSet.
type Builder struct {
	schema *schema.Schema
	desc   Descriptor
	opts   Options

	data    *bytes.Buffer
	chunks  *chunkWriter
	dataLen int64

	index   []byte
	summary Summary
	keys    [][]byte
	stats   *statsCollector
	parquet *parquetBuilder

	lastToken int64
	lastKey   []byte
	scratch   []byte
}

// NewBuilder starts a generation.
func NewBuilder(s *schema.Schema, desc Descriptor, opts Options) (*Builder, error) {
	opts = opts.withDefaults()
	b := &Builder{
		schema: s,
		desc:   desc,
		opts:   opts,
		data:   &bytes.Buffer{},
		stats:  newStatsCollector(s),
	}
	b.summary.Interval = opts.IndexInterval
	if opts.Compression != CompressionNone {
		b.chunks = newChunkWriter(opts.Compression, opts.ChunkSize)
	}
	if opts.Parquet {
		pb, err := newParquetBuilder(s, opts.ParquetCompression)
		if err != nil {
			return nil, err
		}
		b.parquet = pb
	}
	return b, nil
}

func (b *Builder) writeData(p []byte) error {
	b.dataLen += int64(len(p))
	if b.chunks != nil {
		_, err := b.chunks.Write(p)
		return err
	}
	b.data.Write(p)
	return nil
}

// Add appends one partition.
func (b *Builder) Add(p Partition) error {
	if len(p.Key) > codec.MaxKeySize {
		return fmt.Errorf("partition key is %d bytes, limit is %d", len(p.Key), codec.MaxKeySize)
	}
	if len(p.Rows) == 0 {
		return errors.New("partition has no rows")
	}
	if b.stats.partitions > 0 && partitioner.CompareKeys(b.lastToken, b.lastKey, p.Token, p.Key) >= 0 {
		return fmt.Errorf("partition (token %d) is not after the previous partition (token %d)", p.Token, b.lastToken)
	}
	for i := 1; i < len(p.Rows); i++ {
		if b.schema.CompareClustering(p.Rows[i-1], p.Rows[i]) >= 0 {
			return fmt.Errorf("rows %d and %d of partition (token %d) are not in clustering order", i-1, i, p.Token)
		}
	}

	entry := IndexEntry{Key: p.Key, Token: p.Token, Position: b.dataLen}
	if b.stats.partitions%int64(b.opts.IndexInterval) == 0 {
		b.summary.Entries = append(b.summary.Entries, SummaryEntry{
			Key:           p.Key,
			Token:         p.Token,
			IndexPosition: int64(len(b.index)),
		})
	}
	last := SummaryEntry{Key: p.Key, Token: p.Token, IndexPosition: int64(len(b.index))}
	if b.stats.partitions == 0 {
		b.summary.First = last
	}
	b.summary.Last = last
	b.index = appendIndexEntry(b.index, entry)

	hdr := b.scratch[:0]
	hdr = binary.BigEndian.AppendUint16(hdr, uint16(len(p.Key)))
	hdr = append(hdr, p.Key...)
	hdr = binary.BigEndian.AppendUint64(hdr, uint64(p.Token))
	hdr = binary.BigEndian.AppendUint32(hdr, uint32(len(p.Rows)))
	if err := b.writeData(hdr); err != nil {
		return err
	}
	for _, row := range p.Rows {
		body := binary.BigEndian.AppendUint32(hdr[:0], uint32(codec.RowBodySize(b.schema, row)))
		body = codec.AppendRowBody(body, b.schema, row)
		if err := b.writeData(body); err != nil {
			return err
		}
		hdr = body
		if b.parquet != nil {
			b.parquet.append(row)
		}
	}
	b.scratch = hdr[:0]

	b.keys = append(b.keys, p.Key)
	b.stats.addPartition(p.Token, p.Rows)
	b.lastToken, b.lastKey = p.Token, p.Key
	return nil
}

// Partitions returns how many partitions were added.
func (b *Builder) Partitions() int64 { return b.stats.partitions }

// Finish encodes every component.
func (b *Builder) Finish() (*FileSet, error) {
	if b.parquet != nil {
		defer b.parquet.release()
	}
	if b.stats.partitions == 0 {
		return nil, errors.New("cannot finish an empty generation")
	}

	fs := &FileSet{Descriptor: b.desc}
	add := func(c Component, data []byte) {
		fs.Files = append(fs.Files, File{Component: c, Data: data})
	}

	dataBytes := b.data.Bytes()
	var info *CompressionInfo
	if b.chunks != nil {
		var err error
		if dataBytes, info, err = b.chunks.finish(); err != nil {
			return nil, fmt.Errorf("failed to compress data: %w", err)
		}
	}
	add(ComponentData, dataBytes)
	add(ComponentIndex, b.index)

	b.summary.IndexBytes = int64(len(b.index))
	summary, err := b.summary.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode summary: %w", err)
	}
	add(ComponentSummary, summary)

	stats := &Statistics{
		Version:          statisticsVersion,
		Keyspace:         b.desc.Keyspace,
		Table:            b.desc.Table,
		Generation:       b.desc.Generation,
		Partitioner:      b.opts.Partitioner,
		Columns:          b.schema.ColumnNames(),
		Partitions:       b.stats.partitions,
		Rows:             b.stats.rows,
		MinToken:         b.stats.minToken,
		MaxToken:         b.stats.maxToken,
		MinClustering:    b.stats.encodeBounds(b.stats.minValues),
		MaxClustering:    b.stats.encodeBounds(b.stats.maxValues),
		UncompressedSize: b.dataLen,
		CompressedSize:   int64(len(dataBytes)),
		Compression:      b.opts.Compression,
		IndexInterval:    b.opts.IndexInterval,
		CreatedAt:        time.Now().UTC(),
	}
	if info != nil {
		stats.ChunkLength = info.ChunkLength
	}
	statsBytes, err := stats.marshal()
	if err != nil {
		return nil, err
	}
	add(ComponentStatistics, statsBytes)
	fs.Statistics = stats

	filter := NewBloomFilter(len(b.keys), b.opts.BloomFPChance)
	for _, key := range b.keys {
		filter.Add(key)
	}
	filterBytes, err := filter.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode filter: %w", err)
	}
	add(ComponentFilter, filterBytes)

	if info != nil {
		infoBytes, err := info.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("failed to encode compression info: %w", err)
		}
		add(ComponentCompressionInfo, infoBytes)
	}

	fs.Digest = digestOf(dataBytes)
	add(ComponentDigest, []byte(fs.Digest+"\n"))

	if b.parquet != nil {
		pq, err := b.parquet.finish()
		if err != nil {
			return nil, fmt.Errorf("failed to export parquet: %w", err)
		}
		add(ComponentParquet, pq)
	}

	var toc strings.Builder
	for _, f := range fs.Files {
		toc.WriteString(string(f.Component))
		toc.WriteByte('\n')
	}
	toc.WriteString(string(ComponentTOC))
	toc.WriteByte('\n')
	add(ComponentTOC, []byte(toc.String()))

	return fs, nil
}

func digestOf(data []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}
