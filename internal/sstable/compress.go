package sstable

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"strings"
	"sync"

	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
)

// Compression is the chunk codec of Data.db.
type Compression string

const (
	CompressionNone   Compression = "none"
	CompressionSnappy Compression = "snappy"
	CompressionZstd   Compression = "zstd"
)

// DefaultChunkSize is the uncompressed length of one Data.db chunk.
const DefaultChunkSize = 64 * 1024

// chunkTrailerSize is the crc32 stored after every compressed chunk.
const chunkTrailerSize = 4

// ParseCompression maps a config value to a Compression. Empty means none.
func ParseCompression(s string) (Compression, error) {
	switch c := Compression(strings.ToLower(strings.TrimSpace(s))); c {
	case "", CompressionNone:
		return CompressionNone, nil
	case CompressionSnappy, CompressionZstd:
		return c, nil
	default:
		return "", fmt.Errorf("unsupported compression %q (supported: none, snappy, zstd)", s)
	}
}

// Shared zstd coders. EncodeAll and DecodeAll are safe for concurrent use.
var (
	zstdEncoder = sync.OnceValues(func() (*zstd.Encoder, error) {
		return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	zstdDecoder = sync.OnceValues(func() (*zstd.Decoder, error) {
		return zstd.NewReader(nil)
	})
)

func compressChunk(c Compression, dst, src []byte) ([]byte, error) {
	switch c {
	case CompressionSnappy:
		return append(dst, snappy.Encode(nil, src)...), nil
	case CompressionZstd:
		enc, err := zstdEncoder()
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		return enc.EncodeAll(src, dst), nil
	default:
		return nil, fmt.Errorf("unsupported compression %q", c)
	}
}

func decompressChunk(c Compression, src []byte) ([]byte, error) {
	switch c {
	case CompressionSnappy:
		return snappy.Decode(nil, src)
	case CompressionZstd:
		dec, err := zstdDecoder()
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		return dec.DecodeAll(src, nil)
	default:
		return nil, fmt.Errorf("unsupported compression %q", c)
	}
}

// CompressionInfo is the chunk table of a compressed Data.db.
// Index positions always refer to the uncompressed stream.
type CompressionInfo struct {
	Algorithm   Compression
	ChunkLength int
	DataLength  int64
	Offsets     []int64
}

// MarshalBinary encodes the CompressionInfo.db layout:
// magic, uint16 name length, name, uint32 chunk length, uint64 data length,
// uint32 chunk count, uint64 offset per chunk.
func (ci *CompressionInfo) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, 4+2+len(ci.Algorithm)+4+8+4+8*len(ci.Offsets))
	b = append(b, compressionMagic...)
	b = binary.BigEndian.AppendUint16(b, uint16(len(ci.Algorithm)))
	b = append(b, ci.Algorithm...)
	b = binary.BigEndian.AppendUint32(b, uint32(ci.ChunkLength))
	b = binary.BigEndian.AppendUint64(b, uint64(ci.DataLength))
	b = binary.BigEndian.AppendUint32(b, uint32(len(ci.Offsets)))
	for _, off := range ci.Offsets {
		b = binary.BigEndian.AppendUint64(b, uint64(off))
	}
	return b, nil
}

// UnmarshalBinary decodes CompressionInfo.db.
func (ci *CompressionInfo) UnmarshalBinary(b []byte) error {
	if len(b) < 6 || string(b[:4]) != compressionMagic {
		return corruptf("compression info: bad magic")
	}
	nameLen := int(binary.BigEndian.Uint16(b[4:6]))
	b = b[6:]
	if len(b) < nameLen+16 {
		return corruptf("compression info: truncated header")
	}
	alg, err := ParseCompression(string(b[:nameLen]))
	if err != nil || alg == CompressionNone {
		return corruptf("compression info: unknown algorithm %q", b[:nameLen])
	}
	b = b[nameLen:]
	ci.Algorithm = alg
	ci.ChunkLength = int(binary.BigEndian.Uint32(b[0:4]))
	ci.DataLength = int64(binary.BigEndian.Uint64(b[4:12]))
	count := int(binary.BigEndian.Uint32(b[12:16]))
	b = b[16:]
	if ci.ChunkLength <= 0 {
		return corruptf("compression info: chunk length %d", ci.ChunkLength)
	}
	if len(b) != 8*count {
		return corruptf("compression info: %d offset bytes for %d chunks", len(b), count)
	}
	ci.Offsets = make([]int64, count)
	for i := range ci.Offsets {
		ci.Offsets[i] = int64(binary.BigEndian.Uint64(b[8*i:]))
	}
	return nil
}

// chunkWriter cuts the uncompressed Data.db stream into fixed-size chunks and
// appends each compressed chunk plus its crc32 to out.
type chunkWriter struct {
	algorithm Compression
	chunkLen  int
	pending   []byte
	out       []byte
	offsets   []int64
	dataLen   int64
}

func newChunkWriter(algorithm Compression, chunkLen int) *chunkWriter {
	return &chunkWriter{
		algorithm: algorithm,
		chunkLen:  chunkLen,
		pending:   make([]byte, 0, chunkLen),
	}
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	n := len(p)
	for len(p) > 0 {
		take := min(w.chunkLen-len(w.pending), len(p))
		w.pending = append(w.pending, p[:take]...)
		p = p[take:]
		if len(w.pending) == w.chunkLen {
			if err := w.flushChunk(); err != nil {
				return n - len(p), err
			}
		}
	}
	return n, nil
}

func (w *chunkWriter) flushChunk() error {
	start := len(w.out)
	out, err := compressChunk(w.algorithm, w.out, w.pending)
	if err != nil {
		return err
	}
	out = binary.BigEndian.AppendUint32(out, crc32.ChecksumIEEE(out[start:]))
	w.out = out
	w.offsets = append(w.offsets, int64(start))
	w.dataLen += int64(len(w.pending))
	w.pending = w.pending[:0]
	return nil
}

func (w *chunkWriter) finish() ([]byte, *CompressionInfo, error) {
	if len(w.pending) > 0 {
		if err := w.flushChunk(); err != nil {
			return nil, nil, err
		}
	}
	return w.out, &CompressionInfo{
		Algorithm:   w.algorithm,
		ChunkLength: w.chunkLen,
		DataLength:  w.dataLen,
		Offsets:     w.offsets,
	}, nil
}

// chunkReader serves uncompressed byte ranges out of a compressed Data.db.
type chunkReader struct {
	info   *CompressionInfo
	raw    []byte
	cached int
	chunk  []byte
}

func newChunkReader(info *CompressionInfo, raw []byte) *chunkReader {
	return &chunkReader{info: info, raw: raw, cached: -1}
}

func (r *chunkReader) size() int64 { return r.info.DataLength }

// load decompresses chunk i after checking its crc.
func (r *chunkReader) load(i int) ([]byte, error) {
	if i == r.cached {
		return r.chunk, nil
	}
	if i < 0 || i >= len(r.info.Offsets) {
		return nil, corruptf("chunk %d out of range", i)
	}
	start := r.info.Offsets[i]
	end := int64(len(r.raw))
	if i+1 < len(r.info.Offsets) {
		end = r.info.Offsets[i+1]
	}
	if start < 0 || end-start < chunkTrailerSize || end > int64(len(r.raw)) {
		return nil, corruptf("chunk %d has bounds [%d, %d)", i, start, end)
	}
	body := r.raw[start : end-chunkTrailerSize]
	want := binary.BigEndian.Uint32(r.raw[end-chunkTrailerSize : end])
	if got := crc32.ChecksumIEEE(body); got != want {
		return nil, corruptf("chunk %d checksum mismatch: got %08x, want %08x", i, got, want)
	}
	chunk, err := decompressChunk(r.info.Algorithm, body)
	if err != nil {
		return nil, fmt.Errorf("%w: chunk %d: %v", ErrCorrupt, i, err)
	}

	expected := int64(r.info.ChunkLength)
	if i == len(r.info.Offsets)-1 {
		expected = r.info.DataLength - int64(i)*int64(r.info.ChunkLength)
	}
	if int64(len(chunk)) != expected {
		return nil, corruptf("chunk %d decompressed to %d bytes, want %d", i, len(chunk), expected)
	}
	r.cached, r.chunk = i, chunk
	return chunk, nil
}

// readAt returns n uncompressed bytes starting at pos.
func (r *chunkReader) readAt(pos int64, n int) ([]byte, error) {
	if pos < 0 || n < 0 || pos+int64(n) > r.info.DataLength {
		return nil, corruptf("read of %d bytes at %d past data length %d", n, pos, r.info.DataLength)
	}
	chunkLen := int64(r.info.ChunkLength)
	out := make([]byte, 0, n)
	for len(out) < n {
		i := int(pos / chunkLen)
		chunk, err := r.load(i)
		if err != nil {
			return nil, err
		}
		off := int(pos - int64(i)*chunkLen)
		take := min(n-len(out), len(chunk)-off)
		out = append(out, chunk[off:off+take]...)
		pos += int64(take)
	}
	return out, nil
}
