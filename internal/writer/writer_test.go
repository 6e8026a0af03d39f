package writer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/basekick-labs/bulkloader/internal/codec"
	"github.com/basekick-labs/bulkloader/internal/loaderr"
	"github.com/basekick-labs/bulkloader/internal/manifest"
	"github.com/basekick-labs/bulkloader/internal/metrics"
	"github.com/basekick-labs/bulkloader/internal/partitioner"
	"github.com/basekick-labs/bulkloader/internal/schema"
	"github.com/basekick-labs/bulkloader/internal/sstable"
	"github.com/basekick-labs/bulkloader/internal/storage"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const keyspace = "mgrast"

var errDiskFull = errors.New("disk full")

// faultyBackend fails every write whose path matches.
type faultyBackend struct {
	storage.Backend
	fails func(path string) bool
}

func (f *faultyBackend) Write(ctx context.Context, path string, data []byte) error {
	if f.fails(path) {
		return errDiskFull
	}
	return f.Backend.Write(ctx, path, data)
}

func (f *faultyBackend) WriteReader(ctx context.Context, path string, r io.Reader, size int64) error {
	if f.fails(path) {
		return errDiskFull
	}
	return f.Backend.WriteReader(ctx, path, r, size)
}

// constantPartitioner maps every key to one token.
type constantPartitioner struct{}

func (constantPartitioner) Token([]byte) int64 { return 7 }
func (constantPartitioner) Name() string       { return "constant" }

func indexAnnotation(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.Lookup("index_annotation")
	require.NoError(t, err)
	return s
}

func newBackend(t *testing.T) storage.Backend {
	t.Helper()
	backend, err := storage.NewLocalBackend(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	return backend
}

func testOptions(flushRows int) Options {
	opts := DefaultOptions(keyspace, "index_annotation")
	opts.FlushRows = flushRows
	opts.Metrics = metrics.New()
	return opts
}

func annotationRow(id int32, source string) schema.Row {
	return schema.Row{id, source, fmt.Sprintf("md5-%d-%s", id, source), true, id, []int32{id}, []int32{}, nil}
}

func readManifest(t *testing.T, backend storage.Backend, table, session string) *manifest.Manifest {
	t.Helper()
	mm := manifest.NewManager(backend, keyspace, table, zerolog.Nop())
	m, err := mm.Read(context.Background(), mm.Path(session))
	require.NoError(t, err)
	return m
}

func openGeneration(t *testing.T, backend storage.Backend, s *schema.Schema, gen int) *sstable.Reader {
	t.Helper()
	r, err := sstable.Open(context.Background(), backend, s, sstable.Descriptor{Keyspace: keyspace, Table: s.Table, Generation: gen})
	require.NoError(t, err)
	return r
}

func scanAll(t *testing.T, r *sstable.Reader) []sstable.Partition {
	t.Helper()
	var parts []sstable.Partition
	require.NoError(t, r.Scan(context.Background(), func(p sstable.Partition) error {
		parts = append(parts, p)
		return nil
	}))
	return parts
}

func TestOpen_ConfigErrors(t *testing.T) {
	ctx := context.Background()
	s := indexAnnotation(t)
	backend := newBackend(t)

	noKey := &schema.Schema{Table: "t", Columns: []schema.Column{{Name: "a", Type: schema.Int}}}
	badKey := &schema.Schema{Table: "t", Columns: []schema.Column{{Name: "a", Type: schema.Int}}, PartitionKey: []string{"b"}}

	tests := []struct {
		name    string
		backend storage.Backend
		schema  *schema.Schema
		mutate  func(*Options)
	}{
		{"nil schema", backend, nil, nil},
		{"empty schema", backend, &schema.Schema{Table: "t"}, nil},
		{"no partition key", backend, noKey, nil},
		{"unknown key column", backend, badKey, nil},
		{"no keyspace", backend, s, func(o *Options) { o.Keyspace = "" }},
		{"path in table", backend, s, func(o *Options) { o.Table = "../x" }},
		{"bad compression", backend, s, func(o *Options) { o.Compression = "lz4" }},
		{"bad parquet codec", backend, s, func(o *Options) { o.ExportParquet = true; o.ParquetCompression = "lzo" }},
		{"unwritable", &faultyBackend{Backend: backend, fails: func(string) bool { return true }}, s, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions(10)
			if tt.mutate != nil {
				tt.mutate(&opts)
			}
			_, err := Open(ctx, tt.backend, tt.schema, opts)
			require.Error(t, err)
			assert.True(t, loaderr.IsConfig(err), err.Error())
		})
	}
}

func TestOpenDir_Unwritable(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	_, err := OpenDir(context.Background(), filepath.Join(file, "out"), indexAnnotation(t), testOptions(10))
	require.Error(t, err)
	assert.True(t, loaderr.IsConfig(err))
}

func TestWriter_ThresholdPlusOne(t *testing.T) {
	for _, background := range []bool{true, false} {
		t.Run(fmt.Sprintf("background=%t", background), func(t *testing.T) {
			ctx := context.Background()
			s := indexAnnotation(t)
			backend := newBackend(t)

			opts := testOptions(10)
			opts.BackgroundFlush = background
			w, err := Open(ctx, backend, s, opts)
			require.NoError(t, err)

			for id := int32(1); id <= 11; id++ {
				require.NoError(t, w.AddRow(annotationRow(id, "GenBank")))
			}
			require.NoError(t, w.Close())

			gens := w.Generations()
			require.Len(t, gens, 2)
			assert.Equal(t, 1, gens[0].Number)
			assert.Equal(t, int64(10), gens[0].Rows)
			assert.Equal(t, 2, gens[1].Number)
			assert.Equal(t, int64(1), gens[1].Rows)

			files, err := sstable.ListGenerations(ctx, backend, keyspace, s.Table)
			require.NoError(t, err)
			require.Len(t, files, 2)
			for _, f := range files {
				assert.True(t, f.Complete())
			}

			m := readManifest(t, backend, s.Table, w.SessionID())
			assert.Equal(t, manifest.StatusComplete, m.Status)
			assert.Equal(t, int64(11), m.RowsWritten)
			assert.Len(t, m.Generations, 2)
			assert.NotNil(t, m.FinishedAt)
			assert.Contains(t, m.CreateStatement, "PRIMARY KEY (id, source)")

			stats := w.Stats()
			assert.Equal(t, int64(11), stats.RowsAccepted)
			assert.Equal(t, int64(11), stats.RowsWritten)
			assert.Equal(t, 0, stats.RowsBuffered)
		})
	}
}

func TestWriter_FlushBytesThreshold(t *testing.T) {
	ctx := context.Background()
	s := indexAnnotation(t)
	backend := newBackend(t)

	opts := testOptions(1000)
	opts.FlushBytes = 1
	w, err := Open(ctx, backend, s, opts)
	require.NoError(t, err)
	for id := int32(1); id <= 3; id++ {
		require.NoError(t, w.AddRow(annotationRow(id, "KEGG")))
	}
	require.NoError(t, w.Close())
	assert.Len(t, w.Generations(), 3)
}

func TestWriter_OrderIndependence(t *testing.T) {
	ctx := context.Background()
	s := indexAnnotation(t)

	var rows []schema.Row
	for id := int32(1); id <= 40; id++ {
		for _, source := range []string{"GenBank", "KEGG", "RefSeq"} {
			rows = append(rows, annotationRow(id, source))
		}
	}

	write := func(rows []schema.Row) storage.Backend {
		backend := newBackend(t)
		w, err := Open(ctx, backend, s, testOptions(1000))
		require.NoError(t, err)
		for _, row := range rows {
			require.NoError(t, w.AddRow(row))
		}
		require.NoError(t, w.Close())
		return backend
	}

	shuffled := append([]schema.Row(nil), rows...)
	rand.New(rand.NewPCG(1, 2)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	a, b := write(rows), write(shuffled)
	desc := sstable.Descriptor{Keyspace: keyspace, Table: s.Table, Generation: 1}
	for _, c := range []sstable.Component{sstable.ComponentData, sstable.ComponentIndex, sstable.ComponentDigest} {
		dataA, err := a.Read(ctx, desc.Path(c))
		require.NoError(t, err)
		dataB, err := b.Read(ctx, desc.Path(c))
		require.NoError(t, err)
		assert.Equal(t, dataA, dataB, string(c))
	}

	parts := scanAll(t, openGeneration(t, a, s, 1))
	require.Len(t, parts, 40)
	for i := 1; i < len(parts); i++ {
		assert.Negative(t, partitioner.CompareKeys(parts[i-1].Token, parts[i-1].Key, parts[i].Token, parts[i].Key))
	}
	for _, p := range parts {
		require.Len(t, p.Rows, 3)
		assert.Equal(t, "GenBank", p.Rows[0][1])
		assert.Equal(t, "KEGG", p.Rows[1][1])
		assert.Equal(t, "RefSeq", p.Rows[2][1])
	}
}

func TestWriter_IndexAnnotationScenario(t *testing.T) {
	ctx := context.Background()
	s := indexAnnotation(t)
	backend := newBackend(t)

	row := schema.Row{int32(1), "source1", "abc123", true, int32(5), []int32{1, 2, 3}, []int32{4, 5}, []int32{6}}
	w, err := Open(ctx, backend, s, testOptions(100))
	require.NoError(t, err)
	require.NoError(t, w.AddRow(row))
	require.NoError(t, w.Close())

	r := openGeneration(t, backend, s, 1)
	parts := scanAll(t, r)
	require.Len(t, parts, 1)
	assert.Equal(t, []schema.Row{row}, parts[0].Rows)

	key, err := codec.PartitionKey(s, row)
	require.NoError(t, err)
	got, err := r.Get(ctx, partitioner.Murmur3.Token(key), key)
	require.NoError(t, err)
	assert.Equal(t, "source1", got.Rows[0][1])

	res, err := r.Verify(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Rows)
}

func TestWriter_EmptyValuesRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := schema.Lookup("md5_annotation")
	require.NoError(t, err)
	backend := newBackend(t)

	rows := []schema.Row{
		{"m1", "a", false, "", []string{}, []string{""}, nil, []string{"", "x"}},
		{"m1", "b", nil, nil, nil, []string{}, []string{"y"}, nil},
	}
	opts := testOptions(100)
	opts.Table = s.Table
	w, err := Open(ctx, backend, s, opts)
	require.NoError(t, err)
	for _, row := range rows {
		require.NoError(t, w.AddRow(row))
	}
	require.NoError(t, w.Close())

	parts := scanAll(t, openGeneration(t, backend, s, 1))
	require.Len(t, parts, 1)
	assert.Equal(t, rows, parts[0].Rows)
}

func TestWriter_NullPartitionKeyIsRowError(t *testing.T) {
	ctx := context.Background()
	s, err := schema.Lookup("md5_annotation")
	require.NoError(t, err)
	backend := newBackend(t)

	opts := testOptions(100)
	opts.Table = s.Table
	w, err := Open(ctx, backend, s, opts)
	require.NoError(t, err)
	require.NoError(t, w.AddRow(schema.Row{"", "a", true, "x", nil, nil, nil, nil}))

	err = w.AddRow(schema.Row{nil, "b", true, "x", nil, nil, nil, nil})
	var re *loaderr.RowError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, int64(2), re.Ordinal)
	assert.Equal(t, "md5", re.Column)
	assert.True(t, loaderr.IsRow(w.Close()))
}

func TestWriter_TokenCollisionKeepsPartitions(t *testing.T) {
	ctx := context.Background()
	s := indexAnnotation(t)
	backend := newBackend(t)

	opts := testOptions(100)
	opts.Partitioner = constantPartitioner{}
	w, err := Open(ctx, backend, s, opts)
	require.NoError(t, err)
	require.NoError(t, w.AddRow(annotationRow(2, "x")))
	require.NoError(t, w.AddRow(annotationRow(1, "x")))
	require.NoError(t, w.Close())

	r := openGeneration(t, backend, s, 1)
	assert.Equal(t, "constant", r.Statistics().Partitioner)
	parts := scanAll(t, r)
	require.Len(t, parts, 2)
	assert.Equal(t, int64(7), parts[0].Token)
	assert.Equal(t, int64(7), parts[1].Token)
	assert.Equal(t, int32(1), parts[0].Rows[0][0])
	assert.Equal(t, int32(2), parts[1].Rows[0][0])
}

func TestWriter_DuplicateClusteringLastWins(t *testing.T) {
	ctx := context.Background()
	s := indexAnnotation(t)
	backend := newBackend(t)

	first := annotationRow(1, "KEGG")
	second := annotationRow(1, "KEGG")
	second[2] = "replacement"

	w, err := Open(ctx, backend, s, testOptions(100))
	require.NoError(t, err)
	require.NoError(t, w.AddRow(first))
	require.NoError(t, w.AddRow(annotationRow(1, "GenBank")))
	require.NoError(t, w.AddRow(second))
	require.NoError(t, w.Close())

	parts := scanAll(t, openGeneration(t, backend, s, 1))
	require.Len(t, parts, 1)
	require.Len(t, parts[0].Rows, 2)
	assert.Equal(t, "GenBank", parts[0].Rows[0][1])
	assert.Equal(t, "replacement", parts[0].Rows[1][2])
	assert.Equal(t, int64(2), w.Generations()[0].Rows)
}

func TestWriter_MalformedRowStopsRun(t *testing.T) {
	ctx := context.Background()
	s := indexAnnotation(t)
	backend := newBackend(t)

	w, err := Open(ctx, backend, s, testOptions(2))
	require.NoError(t, err)
	require.NoError(t, w.AddRow(annotationRow(1, "a")))
	require.NoError(t, w.AddRow(annotationRow(2, "a")))
	require.NoError(t, w.AddRow(annotationRow(3, "a")))

	short := annotationRow(4, "a")[:5]
	err = w.AddRow(short)
	require.Error(t, err)
	var rowErr *loaderr.RowError
	require.ErrorAs(t, err, &rowErr)
	assert.Equal(t, int64(4), rowErr.Ordinal)
	assert.Equal(t, "8 columns", rowErr.Expected)
	assert.Equal(t, "5 columns", rowErr.Actual)

	assert.Equal(t, err, w.AddRow(annotationRow(5, "a")))

	closeErr := w.Close()
	assert.True(t, loaderr.IsRow(closeErr))

	gens, err := sstable.ListGenerations(ctx, backend, keyspace, s.Table)
	require.NoError(t, err)
	require.Len(t, gens, 1)
	assert.True(t, gens[0].Complete())

	m := readManifest(t, backend, s.Table, w.SessionID())
	assert.Equal(t, manifest.StatusFailed, m.Status)
	assert.Contains(t, m.Error, "row 4")
}

func TestWriter_WrongTypeIsRowError(t *testing.T) {
	s := indexAnnotation(t)
	w, err := Open(context.Background(), newBackend(t), s, testOptions(10))
	require.NoError(t, err)

	row := annotationRow(1, "a")
	row[5] = []string{"1"}
	err = w.AddRow(row)
	var rowErr *loaderr.RowError
	require.ErrorAs(t, err, &rowErr)
	assert.Equal(t, "accession", rowErr.Column)
	require.Error(t, w.Close())
}

func TestWriter_BackgroundFlushErrorSurfaces(t *testing.T) {
	ctx := context.Background()
	s := indexAnnotation(t)
	local := newBackend(t)
	backend := &faultyBackend{Backend: local, fails: func(p string) bool {
		return strings.HasSuffix(p, "-bl-1-Index.db")
	}}

	w, err := Open(ctx, backend, s, testOptions(1))
	require.NoError(t, err)

	// The first flush may already have failed by the time AddRow returns.
	_ = w.AddRow(annotationRow(1, "a"))
	err = w.AddRow(annotationRow(2, "a"))
	require.Error(t, err)
	assert.True(t, loaderr.IsIO(err))
	assert.ErrorIs(t, err, errDiskFull)

	var ioErr *loaderr.IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, 1, ioErr.Generation)

	assert.Equal(t, err, w.AddRow(annotationRow(3, "a")))
	assert.Equal(t, err, w.Close())
	assert.Empty(t, w.Generations())

	gens, err := sstable.ListGenerations(ctx, local, keyspace, s.Table)
	require.NoError(t, err)
	require.Len(t, gens, 1)
	assert.False(t, gens[0].Complete())

	m := readManifest(t, local, s.Table, w.SessionID())
	assert.Equal(t, manifest.StatusFailed, m.Status)
	assert.Contains(t, m.Error, "disk full")
}

func TestWriter_SortedMode(t *testing.T) {
	ctx := context.Background()
	s := indexAnnotation(t)
	backend := newBackend(t)

	type keyed struct {
		token int64
		key   []byte
		row   schema.Row
	}
	var rows []keyed
	for id := int32(1); id <= 20; id++ {
		row := annotationRow(id, "a")
		key, err := codec.PartitionKey(s, row)
		require.NoError(t, err)
		rows = append(rows, keyed{partitioner.Murmur3.Token(key), key, row})
	}
	slices.SortFunc(rows, func(a, b keyed) int { return partitioner.CompareKeys(a.token, a.key, b.token, b.key) })

	opts := testOptions(7)
	opts.Sorted = true
	w, err := Open(ctx, backend, s, opts)
	require.NoError(t, err)
	for _, r := range rows[:10] {
		require.NoError(t, w.AddRow(r.row))
	}

	err = w.AddRow(rows[3].row)
	var rowErr *loaderr.RowError
	require.ErrorAs(t, err, &rowErr)
	assert.Equal(t, int64(11), rowErr.Ordinal)

	require.Error(t, w.Close())
	require.Len(t, w.Generations(), 1)
	parts := scanAll(t, openGeneration(t, backend, s, 1))
	assert.Len(t, parts, 7)
}

func TestWriter_SortedModeAcceptsSortedInput(t *testing.T) {
	ctx := context.Background()
	s := indexAnnotation(t)
	backend := newBackend(t)

	opts := testOptions(2)
	opts.Sorted = true
	opts.Partitioner = constantPartitioner{}
	w, err := Open(ctx, backend, s, opts)
	require.NoError(t, err)
	for _, row := range []schema.Row{
		annotationRow(1, "a"), annotationRow(1, "b"), annotationRow(1, "c"), annotationRow(2, "a"),
	} {
		require.NoError(t, w.AddRow(row))
	}
	require.NoError(t, w.Close())
	require.Len(t, w.Generations(), 2)

	for gen := 1; gen <= 2; gen++ {
		_, err := openGeneration(t, backend, s, gen).Verify(ctx)
		require.NoError(t, err)
	}
}

func TestWriter_UploadMirror(t *testing.T) {
	ctx := context.Background()
	s := indexAnnotation(t)
	backend := newBackend(t)
	upload := storage.WithPrefix(newBackend(t), "loads/run1")

	opts := testOptions(2)
	opts.Upload = upload
	opts.ExportParquet = true
	w, err := Open(ctx, backend, s, opts)
	require.NoError(t, err)
	for id := int32(1); id <= 3; id++ {
		require.NoError(t, w.AddRow(annotationRow(id, "a")))
	}
	require.NoError(t, w.Close())

	gens := w.Generations()
	require.Len(t, gens, 2)
	for _, g := range gens {
		assert.True(t, g.Uploaded)
		assert.Contains(t, g.Components, string(sstable.ComponentParquet))
	}

	mirrored, err := sstable.ListGenerations(ctx, upload, keyspace, s.Table)
	require.NoError(t, err)
	require.Len(t, mirrored, 2)
	assert.True(t, mirrored[1].Complete())

	m := readManifest(t, upload, s.Table, w.SessionID())
	assert.Equal(t, manifest.StatusComplete, m.Status)
	_, err = openGeneration(t, upload, s, 2).Verify(ctx)
	require.NoError(t, err)
}

func TestWriter_UploadFailureIsFatal(t *testing.T) {
	ctx := context.Background()
	s := indexAnnotation(t)
	backend := newBackend(t)

	opts := testOptions(1)
	opts.BackgroundFlush = false
	opts.Upload = &faultyBackend{Backend: newBackend(t), fails: func(p string) bool {
		return strings.Contains(p, "-bl-")
	}}
	w, err := Open(ctx, backend, s, opts)
	require.NoError(t, err)

	err = w.AddRow(annotationRow(1, "a"))
	var ioErr *loaderr.IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "upload", ioErr.Op)
	assert.Equal(t, err, w.Close())
}

func TestWriter_Abort(t *testing.T) {
	ctx := context.Background()
	s := indexAnnotation(t)
	backend := newBackend(t)

	w, err := Open(ctx, backend, s, testOptions(2))
	require.NoError(t, err)
	for id := int32(1); id <= 3; id++ {
		require.NoError(t, w.AddRow(annotationRow(id, "a")))
	}
	require.NoError(t, w.Abort())
	assert.ErrorIs(t, w.AddRow(annotationRow(4, "a")), ErrClosed)
	require.NoError(t, w.Close())

	assert.Len(t, w.Generations(), 1)
	m := readManifest(t, backend, s.Table, w.SessionID())
	assert.Equal(t, manifest.StatusAborted, m.Status)
	assert.Equal(t, int64(2), m.RowsWritten)
}

func TestWriter_RowErrorKeepsSubmittedGeneration(t *testing.T) {
	ctx := context.Background()
	s := indexAnnotation(t)

	for i := 0; i < 25; i++ {
		backend := newBackend(t)
		w, err := Open(ctx, backend, s, testOptions(2))
		require.NoError(t, err)
		require.NoError(t, w.AddRow(annotationRow(1, "a")))
		require.NoError(t, w.AddRow(annotationRow(2, "a")))

		err = w.AddRow(annotationRow(3, "a")[:5])
		require.True(t, loaderr.IsRow(err))
		assert.True(t, loaderr.IsRow(w.Close()))

		gens := w.Generations()
		require.Len(t, gens, 1, "run %d", i)
		assert.Equal(t, int64(2), gens[0].Rows)
		assert.Len(t, scanAll(t, openGeneration(t, backend, s, 1)), 2)
	}
}

func TestWriter_CloseWithError(t *testing.T) {
	ctx := context.Background()
	s := indexAnnotation(t)
	backend := newBackend(t)

	w, err := Open(ctx, backend, s, testOptions(2))
	require.NoError(t, err)
	for id := int32(1); id <= 3; id++ {
		require.NoError(t, w.AddRow(annotationRow(id, "a")))
	}

	cause := &loaderr.RowError{Ordinal: 4, Expected: "8 columns", Actual: "5 columns"}
	err = w.CloseWithError(cause)
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, w.Close(), cause)

	assert.Len(t, w.Generations(), 1)
	m := readManifest(t, backend, s.Table, w.SessionID())
	assert.Equal(t, manifest.StatusFailed, m.Status)
	assert.Equal(t, int64(2), m.RowsWritten)
	assert.Contains(t, m.Error, "row 4")
}

func TestWriter_CloseWithoutRows(t *testing.T) {
	ctx := context.Background()
	s := indexAnnotation(t)
	backend := newBackend(t)

	w, err := OpenDir(ctx, t.TempDir(), s, testOptions(10))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.Empty(t, w.Generations())

	w, err = Open(ctx, backend, s, testOptions(10))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	m := readManifest(t, backend, s.Table, w.SessionID())
	assert.Equal(t, manifest.StatusComplete, m.Status)
	assert.Empty(t, m.Generations)
}

func TestWriter_ContinuesAfterEarlierSessions(t *testing.T) {
	ctx := context.Background()
	s := indexAnnotation(t)
	backend := newBackend(t)

	w, err := Open(ctx, backend, s, testOptions(10))
	require.NoError(t, err)
	require.NoError(t, w.AddRow(annotationRow(1, "a")))
	require.NoError(t, w.Close())

	crashed := &manifest.Manifest{SessionID: "crashed", Keyspace: keyspace, Table: s.Table, Status: manifest.StatusInProgress}
	_, err = manifest.NewManager(backend, keyspace, s.Table, zerolog.Nop()).Write(ctx, crashed)
	require.NoError(t, err)
	partial := sstable.Descriptor{Keyspace: keyspace, Table: s.Table, Generation: 2}
	require.NoError(t, backend.Write(ctx, partial.Path(sstable.ComponentData), []byte("partial")))

	w, err = Open(ctx, backend, s, testOptions(10))
	require.NoError(t, err)
	require.NoError(t, w.AddRow(annotationRow(2, "a")))
	require.NoError(t, w.Close())

	gens := w.Generations()
	require.Len(t, gens, 1)
	assert.Equal(t, 2, gens[0].Number)
	_, err = openGeneration(t, backend, s, 2).Verify(ctx)
	require.NoError(t, err)

	assert.Equal(t, manifest.StatusFailed, readManifest(t, backend, s.Table, "crashed").Status)
}
