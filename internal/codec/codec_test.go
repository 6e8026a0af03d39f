package codec

import (
	"math"
	"testing"

	"github.com/basekick-labs/bulkloader/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustLookup(t *testing.T, table string) *schema.Schema {
	t.Helper()
	s, err := schema.Lookup(table)
	require.NoError(t, err)
	return s
}

func TestValue_WireFormat(t *testing.T) {
	assert.Equal(t, []byte{0, 0, 0, 5}, EncodeValue(schema.Int, int32(5)))
	assert.Equal(t, []byte{0xff, 0xff, 0xff, 0xff}, EncodeValue(schema.Int, int32(-1)))
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 1, 0}, EncodeValue(schema.BigInt, int64(256)))
	assert.Equal(t, []byte{0x3f, 0x80, 0, 0}, EncodeValue(schema.Float, float32(1)))
	assert.Equal(t, []byte{1}, EncodeValue(schema.Boolean, true))
	assert.Equal(t, []byte("abc"), EncodeValue(schema.Text, "abc"))
	assert.Equal(t,
		[]byte{0, 0, 0, 2, 0, 0, 0, 1, 'a', 0, 0, 0, 0},
		EncodeValue(schema.ListOf(schema.Text), []string{"a", ""}))
	assert.Equal(t, []byte{0, 0, 0, 0}, EncodeValue(schema.ListOf(schema.Int), []int32{}))
}

func TestCell_NullVersusEmpty(t *testing.T) {
	listType := schema.ListOf(schema.Text)

	cases := []struct {
		name string
		in   any
	}{
		{"null", nil},
		{"empty list", []string{}},
		{"list with one empty string", []string{""}},
		{"list with values", []string{"K00001", "K00002"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cell := AppendCell(nil, listType, tc.in)
			assert.Equal(t, CellSize(listType, tc.in), len(cell))

			out, n, err := ReadCell(listType, cell)
			require.NoError(t, err)
			assert.Equal(t, len(cell), n)
			if tc.in == nil {
				assert.Nil(t, out)
				return
			}
			require.NotNil(t, out)
			assert.Equal(t, tc.in, out)
		})
	}

	// a typed nil slice is an empty list, not null
	cell := AppendCell(nil, schema.ListOf(schema.Int), []int32(nil))
	out, _, err := ReadCell(schema.ListOf(schema.Int), cell)
	require.NoError(t, err)
	assert.Equal(t, []int32{}, out)
}

func TestRow_RoundTrip(t *testing.T) {
	tests := []struct {
		table string
		row   schema.Row
	}{
		{"index_annotation", schema.Row{int32(1), "source1", "abc123", true, int32(5), []int32{1, 2, 3}, []int32{4, 5}, []int32{6}}},
		{"index_annotation", schema.Row{int32(-7), "", "", false, nil, []int32{}, nil, []int32{math.MaxInt32}}},
		{"md5_annotation", schema.Row{"0a1b", "RefSeq", true, "single", []string{""}, []string{}, []string{"a", "b,c"}, nil}},
		{"job_md5s", schema.Row{int32(1), int32(4441), "d41d8cd9", int32(12), float32(1.5e-30), float32(97.25), float32(-0.0), int64(1 << 40), int32(120)}},
		{"job_features", schema.Row{int32(1), int32(2), "m", "", int32(1), int32(2), int32(3), int32(4)}},
	}
	for _, tt := range tests {
		t.Run(tt.table, func(t *testing.T) {
			s := mustLookup(t, tt.table)
			require.NoError(t, s.CheckRow(tt.row, 1))

			key, err := PartitionKey(s, tt.row)
			require.NoError(t, err)
			body := AppendRowBody(nil, s, tt.row)
			assert.Equal(t, RowBodySize(s, tt.row), len(body))

			out, err := DecodeRow(s, key, body)
			require.NoError(t, err)
			assert.Equal(t, tt.row, out)
		})
	}
}

func TestPartitionKey_Composite(t *testing.T) {
	s := mustLookup(t, "job_md5s")
	row := schema.Row{int32(1), int32(258), "m", int32(0), float32(0), float32(0), float32(0), int64(0), int32(0)}

	key, err := PartitionKey(s, row)
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0, 4, 0, 0, 0, 1, 0,
		0, 4, 0, 0, 1, 2, 0,
	}, key)
}

func TestPartitionKey_EmptyAndNull(t *testing.T) {
	s := mustLookup(t, "md5_annotation")

	row := schema.Row{"", "src", nil, nil, nil, nil, nil, nil}
	key, err := PartitionKey(s, row)
	require.NoError(t, err)
	assert.Empty(t, key)

	decoded := make(schema.Row, len(s.Columns))
	require.NoError(t, DecodePartitionKey(s, key, decoded))
	assert.Equal(t, "", decoded[0])

	row[0] = nil
	_, err = PartitionKey(s, row)
	assert.ErrorIs(t, err, ErrNullKey)
}

func TestPartitionKey_NullCompositeComponent(t *testing.T) {
	s := mustLookup(t, "job_md5s")
	row := schema.Row{int32(1), nil, "md5", nil, nil, nil, nil, nil, nil}

	_, err := PartitionKey(s, row)
	assert.ErrorIs(t, err, ErrNullKey)

	row[0] = nil
	_, err = PartitionKey(s, row)
	assert.ErrorIs(t, err, ErrNullKey)
}

func TestPartitionKey_TooLarge(t *testing.T) {
	s := mustLookup(t, "md5_annotation")
	big := make([]byte, MaxKeySize+1)
	row := schema.Row{string(big), "src", nil, nil, nil, nil, nil, nil}

	_, err := PartitionKey(s, row)
	assert.Error(t, err)
}

func TestReadCell_Truncated(t *testing.T) {
	_, _, err := ReadCell(schema.Int, []byte{0, 0})
	assert.ErrorIs(t, err, ErrTruncated)

	_, _, err = ReadCell(schema.Text, []byte{0, 0, 0, 9, 'a'})
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = DecodeValue(schema.ListOf(schema.Int), []byte{0, 0, 0, 1, 0, 0, 0, 4, 0})
	assert.ErrorIs(t, err, ErrTruncated)
}
