// Package csvsource streams a delimited text file into typed rows for one table.
package csvsource

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/basekick-labs/bulkloader/internal/config"
	"github.com/basekick-labs/bulkloader/internal/loaderr"
	"github.com/basekick-labs/bulkloader/internal/metrics"
	"github.com/basekick-labs/bulkloader/internal/schema"
	"github.com/rs/zerolog"
)

// Options controls how the input is split into fields.
type Options struct {
	Delimiter  rune
	SkipHeader bool
	Metrics    *metrics.Metrics
	Logger     zerolog.Logger
}

// OptionsFromConfig maps the input section of the configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	opts := Options{SkipHeader: cfg.Input.SkipHeader, Logger: zerolog.Nop()}
	if d := []rune(cfg.Input.Delimiter); len(d) == 1 {
		opts.Delimiter = d[0]
	}
	return opts
}

// Reader yields one typed row per input record. It is not safe for concurrent use.
type Reader struct {
	schema  *schema.Schema
	csv     *csv.Reader
	closer  io.Closer
	metrics *metrics.Metrics
	logger  zerolog.Logger

	skipHeader bool
	line       int64
	rows       int64
}

// Open opens path for reading. A missing or unreadable file is a ConfigError.
func Open(path string, s *schema.Schema, opts Options) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, loaderr.Config("open input", err)
	}
	r := NewReader(f, s, opts)
	r.closer = f
	r.logger.Debug().Str("path", path).Str("table", s.Table).Msg("Opened input file")
	return r, nil
}

// NewReader reads records from src. The caller keeps ownership of src.
func NewReader(src io.Reader, s *schema.Schema, opts Options) *Reader {
	cr := csv.NewReader(src)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true
	if opts.Delimiter != 0 {
		cr.Comma = opts.Delimiter
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Get()
	}
	return &Reader{
		schema:     s,
		csv:        cr,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		skipHeader: opts.SkipHeader,
	}
}

// Next returns the next row, or io.EOF once the input is exhausted. Malformed
// records and fields that do not convert to the column type are RowErrors
// carrying the record's line number.
func (r *Reader) Next() (schema.Row, error) {
	if r.skipHeader {
		r.skipHeader = false
		if _, err := r.csv.Read(); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, r.readError(err)
		}
	}

	fields, err := r.csv.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, r.readError(err)
	}
	line, _ := r.csv.FieldPos(0)
	r.line = int64(line)
	r.metrics.SetInputBytes(r.csv.InputOffset())

	row, err := Coerce(r.schema, fields, r.line)
	if err != nil {
		r.metrics.IncRowsRejected()
		return nil, err
	}
	r.rows++
	r.metrics.IncRowsRead()
	return row, nil
}

func (r *Reader) readError(err error) error {
	var parseErr *csv.ParseError
	if errors.As(err, &parseErr) {
		r.metrics.IncRowsRejected()
		return &loaderr.RowError{
			Ordinal:  int64(parseErr.StartLine),
			Expected: "well-formed record",
			Actual:   "malformed record",
			Err:      parseErr.Err,
		}
	}
	return fmt.Errorf("failed to read input: %w", err)
}

// Each calls fn for every row until the input ends, fn fails or ctx is done.
func (r *Reader) Each(ctx context.Context, fn func(schema.Row) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		row, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(row); err != nil {
			return err
		}
	}
}

// Line is the line number of the last record read.
func (r *Reader) Line() int64 { return r.line }

// Rows is the number of rows successfully returned so far.
func (r *Reader) Rows() int64 { return r.rows }

// Close releases the underlying file when the Reader opened it.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	err := r.closer.Close()
	r.closer = nil
	return err
}
