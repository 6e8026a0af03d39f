package schema

import (
	"math"
	"testing"

	"github.com/basekick-labs/bulkloader/internal/loaderr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup_KnownTables(t *testing.T) {
	for _, name := range []string{
		"index_annotation", "id_annotation", "md5_id_annotation", "midx_annotation",
		"md5_annotation", "job_md5s", "job_features",
	} {
		s, err := Lookup(name)
		require.NoError(t, err, name)
		assert.Equal(t, name, s.Table)
		assert.NotEmpty(t, s.PartitionIndices(), name)
	}
	assert.Len(t, Tables(), 7)
}

func TestLookup_UnknownTable(t *testing.T) {
	_, err := Lookup("genome_blobs")
	require.Error(t, err)
	assert.True(t, loaderr.IsConfig(err))
	assert.Contains(t, err.Error(), "unsupported table type: genome_blobs")
}

func TestSchema_KeyLayout(t *testing.T) {
	s, err := Lookup("job_features")
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1}, s.PartitionIndices())
	assert.Equal(t, []int{2, 3}, s.ClusteringIndices())
	assert.Equal(t, []int{2, 3, 4, 5, 6, 7}, s.CellIndices())
}

func TestSchema_Validate(t *testing.T) {
	tests := []struct {
		name   string
		schema *Schema
	}{
		{"nil schema", nil},
		{"no columns", &Schema{Table: "t", PartitionKey: []string{"id"}}},
		{"no partition key", &Schema{Table: "t", Columns: []Column{{"id", Int}}}},
		{"unknown key column", &Schema{Table: "t", Columns: []Column{{"id", Int}}, PartitionKey: []string{"nope"}}},
		{"list key", &Schema{Table: "t", Columns: []Column{{"ids", ListOf(Int)}}, PartitionKey: []string{"ids"}}},
		{"duplicate column", &Schema{Table: "t", Columns: []Column{{"id", Int}, {"id", Text}}, PartitionKey: []string{"id"}}},
		{"key reused", &Schema{Table: "t", Columns: []Column{{"id", Int}}, PartitionKey: []string{"id"}, Clustering: []string{"id"}}},
		{"invalid type", &Schema{Table: "t", Columns: []Column{{"id", Type{}}}, PartitionKey: []string{"id"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.schema.Validate()
			require.Error(t, err)
			assert.True(t, loaderr.IsConfig(err))
		})
	}
}

func TestSchema_CheckRow(t *testing.T) {
	s, err := Lookup("index_annotation")
	require.NoError(t, err)

	good := Row{int32(1), "source1", "abc123", true, int32(5), []int32{1, 2, 3}, []int32{4, 5}, []int32{6}}
	assert.NoError(t, s.CheckRow(good, 1))

	withNulls := Row{int32(1), "source1", nil, nil, nil, nil, []int32{}, []int32(nil)}
	assert.NoError(t, s.CheckRow(withNulls, 2))

	err = s.CheckRow(good[:6], 3)
	var re *loaderr.RowError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, int64(3), re.Ordinal)
	assert.Equal(t, "8 columns", re.Expected)
	assert.Equal(t, "6 columns", re.Actual)

	bad := append(Row{}, good...)
	bad[4] = int64(5)
	err = s.CheckRow(bad, 4)
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "single", re.Column)
	assert.Equal(t, "int32", re.Expected)
	assert.Equal(t, "int64", re.Actual)

	bad = append(Row{}, good...)
	bad[5] = []string{"1"}
	require.ErrorAs(t, s.CheckRow(bad, 5), &re)
	assert.Equal(t, "accession", re.Column)

	bad = append(Row{}, good...)
	bad[2] = string([]byte{0xff, 0xfe})
	require.ErrorAs(t, s.CheckRow(bad, 6), &re)
	assert.Equal(t, "md5", re.Column)
}

func TestSchema_CheckRowRejectsNullPartitionKey(t *testing.T) {
	s, err := Lookup("md5_annotation")
	require.NoError(t, err)

	var re *loaderr.RowError
	row := Row{nil, "source1", true, "x", []string{}, []string{}, []string{}, []string{}}
	require.ErrorAs(t, s.CheckRow(row, 7), &re)
	assert.Equal(t, int64(7), re.Ordinal)
	assert.Equal(t, "md5", re.Column)
	assert.Equal(t, "non-null partition key", re.Expected)
	assert.Equal(t, "null", re.Actual)

	row[0] = ""
	assert.NoError(t, s.CheckRow(row, 8))

	composite, err := Lookup("job_md5s")
	require.NoError(t, err)
	require.ErrorAs(t, composite.CheckRow(Row{int32(1), nil, "m", nil, nil, nil, nil, nil, nil}, 9), &re)
	assert.Equal(t, "job", re.Column)
}

func TestSchema_Statements(t *testing.T) {
	s, err := Lookup("job_md5s")
	require.NoError(t, err)

	assert.Equal(t,
		"CREATE TABLE mgrast.job_md5s (version int, job int, md5 text, abundance int, exp_avg float, "+
			"ident_avg float, len_avg float, seek bigint, length int, PRIMARY KEY ((version, job), md5))",
		s.CreateStatement("mgrast"))
	assert.Equal(t,
		"INSERT INTO mgrast.job_md5s (version, job, md5, abundance, exp_avg, ident_avg, len_avg, seek, length) "+
			"VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		s.InsertStatement("mgrast"))

	idx, err := Lookup("index_annotation")
	require.NoError(t, err)
	assert.Contains(t, idx.CreateStatement("ks"), "accession list<int>, ")
	assert.Contains(t, idx.CreateStatement("ks"), "PRIMARY KEY (id, source))")
}

func TestCompareValues(t *testing.T) {
	assert.Equal(t, -1, CompareValues(Int, nil, int32(-5)))
	assert.Equal(t, 0, CompareValues(Text, nil, nil))
	assert.Equal(t, 1, CompareValues(Int, int32(2), int32(1)))
	assert.Equal(t, -1, CompareValues(BigInt, int64(math.MinInt64), int64(0)))
	assert.Equal(t, -1, CompareValues(Boolean, false, true))
	assert.Equal(t, -1, CompareValues(Text, "B", "a"))
	assert.Equal(t, -1, CompareValues(Text, "", "a"))
	assert.Equal(t, -1, CompareValues(Float, float32(math.Copysign(0, -1)), float32(0)))
	assert.Equal(t, 1, CompareValues(Float, float32(math.NaN()), float32(math.Inf(1))))
	assert.Equal(t, -1, CompareValues(ListOf(Int), []int32{1, 2}, []int32{1, 2, 0}))
	assert.Equal(t, 1, CompareValues(ListOf(Text), []string{"b"}, []string{"a", "z"}))
}

func TestCompareClustering(t *testing.T) {
	s, err := Lookup("job_features")
	require.NoError(t, err)

	a := Row{int32(1), int32(1), "m1", "f2", int32(0), int32(0), int32(0), int32(0)}
	b := Row{int32(1), int32(1), "m1", "f10", int32(0), int32(0), int32(0), int32(0)}
	c := Row{int32(1), int32(1), "m0", "f9", int32(0), int32(0), int32(0), int32(0)}

	assert.Equal(t, 1, s.CompareClustering(a, b))
	assert.Equal(t, -1, s.CompareClustering(c, b))
	assert.Equal(t, 0, s.CompareClustering(a, a))
}
