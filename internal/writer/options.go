package writer

import (
	"fmt"
	"strings"

	"github.com/basekick-labs/bulkloader/internal/config"
	"github.com/basekick-labs/bulkloader/internal/loaderr"
	"github.com/basekick-labs/bulkloader/internal/metrics"
	"github.com/basekick-labs/bulkloader/internal/partitioner"
	"github.com/basekick-labs/bulkloader/internal/sstable"
	"github.com/basekick-labs/bulkloader/internal/storage"
	"github.com/rs/zerolog"
)

const (
	DefaultFlushRows  = 100000
	DefaultFlushBytes = 128 * 1024 * 1024
)

// Options configures a Writer. Zero numeric fields take their defaults;
// use DefaultOptions to also get the default BackgroundFlush and Compression.
type Options struct {
	Keyspace string
	Table    string

	FlushRows     int
	FlushBytes    int64
	IndexInterval int
	Compression   string
	ChunkSize     int
	BloomFPChance float64

	// Sorted promises rows arrive in strictly increasing (token, key, clustering)
	// order. Out-of-order rows are rejected and the buffer is never re-sorted.
	Sorted          bool
	BackgroundFlush bool

	ExportParquet      bool
	ParquetCompression string

	// Upload mirrors every finished generation and manifest. Optional.
	Upload storage.Backend

	Partitioner partitioner.Partitioner
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics
}

// DefaultOptions returns the defaults for one table.
func DefaultOptions(keyspace, table string) Options {
	return Options{
		Keyspace:           keyspace,
		Table:              table,
		FlushRows:          DefaultFlushRows,
		FlushBytes:         DefaultFlushBytes,
		IndexInterval:      sstable.DefaultIndexInterval,
		Compression:        string(sstable.CompressionZstd),
		ChunkSize:          sstable.DefaultChunkSize,
		BloomFPChance:      0.01,
		BackgroundFlush:    true,
		ParquetCompression: "snappy",
		Partitioner:        partitioner.Murmur3,
		Logger:             zerolog.Nop(),
	}
}

// OptionsFromConfig maps the loaded configuration onto writer options.
func OptionsFromConfig(cfg *config.Config, keyspace, table string) Options {
	opts := DefaultOptions(keyspace, table)
	opts.FlushRows = cfg.Writer.FlushRows
	opts.FlushBytes = cfg.Writer.FlushSize
	opts.IndexInterval = cfg.Writer.IndexInterval
	opts.Compression = cfg.Writer.Compression
	opts.ChunkSize = int(cfg.Writer.ChunkSize)
	opts.BloomFPChance = cfg.Writer.BloomFPChance
	opts.Sorted = cfg.Writer.Sorted
	opts.BackgroundFlush = cfg.Writer.BackgroundFlush
	opts.ExportParquet = cfg.Export.Parquet
	opts.ParquetCompression = cfg.Export.ParquetCompression
	return opts
}

func (o Options) withDefaults() Options {
	if o.FlushRows <= 0 {
		o.FlushRows = DefaultFlushRows
	}
	if o.FlushBytes <= 0 {
		o.FlushBytes = DefaultFlushBytes
	}
	if o.IndexInterval <= 0 {
		o.IndexInterval = sstable.DefaultIndexInterval
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = sstable.DefaultChunkSize
	}
	if o.BloomFPChance <= 0 {
		o.BloomFPChance = 0.01
	}
	if o.Partitioner == nil {
		o.Partitioner = partitioner.Murmur3
	}
	if o.Metrics == nil {
		o.Metrics = metrics.Get()
	}
	return o
}

// tableOptions validates the options and derives the generation layout.
func (o Options) tableOptions() (sstable.Options, error) {
	for field, name := range map[string]string{"keyspace": o.Keyspace, "table": o.Table} {
		if name == "" {
			return sstable.Options{}, loaderr.Configf("open", "%s is required", field)
		}
		if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
			return sstable.Options{}, loaderr.Configf("open", "invalid %s name %q", field, name)
		}
	}
	if o.BloomFPChance >= 1 {
		return sstable.Options{}, loaderr.Configf("open", "bloom filter false-positive chance must be below 1, got %g", o.BloomFPChance)
	}
	compression, err := sstable.ParseCompression(o.Compression)
	if err != nil {
		return sstable.Options{}, loaderr.Config("open", err)
	}
	if o.ExportParquet {
		if _, err := sstable.ParquetCodec(o.ParquetCompression); err != nil {
			return sstable.Options{}, loaderr.Config("open", err)
		}
	}
	return sstable.Options{
		IndexInterval:      o.IndexInterval,
		Compression:        compression,
		ChunkSize:          o.ChunkSize,
		BloomFPChance:      o.BloomFPChance,
		Partitioner:        o.Partitioner.Name(),
		Parquet:            o.ExportParquet,
		ParquetCompression: o.ParquetCompression,
	}, nil
}

func (o Options) String() string {
	return fmt.Sprintf("flush_rows=%d flush_bytes=%d compression=%s sorted=%t background=%t",
		o.FlushRows, o.FlushBytes, o.Compression, o.Sorted, o.BackgroundFlush)
}
