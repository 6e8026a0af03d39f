package sstable

import (
	"bytes"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/basekick-labs/bulkloader/internal/schema"
)

// arrowAllocator is shared by every parquet export; GoAllocator is safe for concurrent use.
var arrowAllocator = memory.NewGoAllocator()

// ParquetCodec maps a config value to a parquet compression codec.
func ParquetCodec(name string) (compress.Compression, error) {
	switch name {
	case "", "snappy":
		return compress.Codecs.Snappy, nil
	case "zstd":
		return compress.Codecs.Zstd, nil
	case "gzip":
		return compress.Codecs.Gzip, nil
	case "none", "uncompressed":
		return compress.Codecs.Uncompressed, nil
	default:
		return compress.Codecs.Uncompressed, fmt.Errorf("unsupported parquet compression %q (supported: snappy, zstd, gzip, none)", name)
	}
}

func arrowType(t schema.Type) arrow.DataType {
	switch t.Kind {
	case schema.KindInt:
		return arrow.PrimitiveTypes.Int32
	case schema.KindBigInt:
		return arrow.PrimitiveTypes.Int64
	case schema.KindFloat:
		return arrow.PrimitiveTypes.Float32
	case schema.KindBoolean:
		return arrow.FixedWidthTypes.Boolean
	case schema.KindText:
		return arrow.BinaryTypes.String
	case schema.KindList:
		return arrow.ListOf(arrowType(t.ElemType()))
	default:
		return nil
	}
}

// ArrowSchema returns the arrow schema of a table's parquet export.
func ArrowSchema(s *schema.Schema) *arrow.Schema {
	fields := make([]arrow.Field, len(s.Columns))
	for i, col := range s.Columns {
		fields[i] = arrow.Field{Name: col.Name, Type: arrowType(col.Type), Nullable: true}
	}
	return arrow.NewSchema(fields, nil)
}

// parquetBuilder accumulates rows column by column in generation order.
type parquetBuilder struct {
	schema      *schema.Schema
	arrowSchema *arrow.Schema
	builders    []array.Builder
	compression compress.Compression
	rows        int
}

func newParquetBuilder(s *schema.Schema, compression string) (*parquetBuilder, error) {
	codec, err := ParquetCodec(compression)
	if err != nil {
		return nil, err
	}
	as := ArrowSchema(s)
	builders := make([]array.Builder, len(as.Fields()))
	for i, f := range as.Fields() {
		builders[i] = array.NewBuilder(arrowAllocator, f.Type)
	}
	return &parquetBuilder{
		schema:      s,
		arrowSchema: as,
		builders:    builders,
		compression: codec,
	}, nil
}

func (p *parquetBuilder) append(row schema.Row) {
	for i, col := range p.schema.Columns {
		v := row[i]
		if v == nil {
			p.builders[i].AppendNull()
			continue
		}
		if !col.Type.IsList() {
			appendScalar(p.builders[i], v)
			continue
		}
		lb := p.builders[i].(*array.ListBuilder)
		lb.Append(true)
		vb := lb.ValueBuilder()
		switch list := v.(type) {
		case []int32:
			vb.(*array.Int32Builder).AppendValues(list, nil)
		case []int64:
			vb.(*array.Int64Builder).AppendValues(list, nil)
		case []float32:
			vb.(*array.Float32Builder).AppendValues(list, nil)
		case []bool:
			vb.(*array.BooleanBuilder).AppendValues(list, nil)
		case []string:
			vb.(*array.StringBuilder).AppendValues(list, nil)
		}
	}
	p.rows++
}

func appendScalar(b array.Builder, v any) {
	switch x := v.(type) {
	case int32:
		b.(*array.Int32Builder).Append(x)
	case int64:
		b.(*array.Int64Builder).Append(x)
	case float32:
		b.(*array.Float32Builder).Append(x)
	case bool:
		b.(*array.BooleanBuilder).Append(x)
	case string:
		b.(*array.StringBuilder).Append(x)
	}
}

// finish writes the accumulated rows as one parquet file.
func (p *parquetBuilder) finish() ([]byte, error) {
	arrays := make([]arrow.Array, len(p.builders))
	defer func() {
		for _, arr := range arrays {
			if arr != nil {
				arr.Release()
			}
		}
	}()
	for i, b := range p.builders {
		arrays[i] = b.NewArray()
	}

	record := array.NewRecord(p.arrowSchema, arrays, int64(p.rows))
	defer record.Release()

	var buf bytes.Buffer
	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(p.compression),
		parquet.WithDictionaryDefault(true),
		parquet.WithStats(true),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())

	writer, err := pqarrow.NewFileWriter(p.arrowSchema, &buf, writerProps, arrowProps)
	if err != nil {
		return nil, fmt.Errorf("failed to create Parquet writer: %w", err)
	}
	if err := writer.Write(record); err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to write record batch: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close Parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

func (p *parquetBuilder) release() {
	for _, b := range p.builders {
		b.Release()
	}
}
