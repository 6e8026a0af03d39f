package schema

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/basekick-labs/bulkloader/internal/loaderr"
)

// Row is a fully typed tuple in schema column order.
type Row []any

// Column is a named, typed column.
type Column struct {
	Name string
	Type Type
}

// Schema describes one table: its columns, the ordered partition key and the
// ordered clustering key. Call Validate (New does) before using the index accessors.
type Schema struct {
	Table        string
	Columns      []Column
	PartitionKey []string
	Clustering   []string

	byName        map[string]int
	partitionIdx  []int
	clusteringIdx []int
	cellIdx       []int
}

// New builds and validates a schema.
func New(table string, columns []Column, partitionKey, clustering []string) (*Schema, error) {
	s := &Schema{
		Table:        table,
		Columns:      columns,
		PartitionKey: partitionKey,
		Clustering:   clustering,
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// MustNew is New for static schema tables; it panics on an invalid definition.
func MustNew(table string, columns []Column, partitionKey, clustering []string) *Schema {
	s, err := New(table, columns, partitionKey, clustering)
	if err != nil {
		panic(err)
	}
	return s
}

// Validate checks the definition and resolves key column positions.
// All failures are ConfigErrors.
func (s *Schema) Validate() error {
	if s == nil || len(s.Columns) == 0 {
		return loaderr.Configf("schema", "schema has no columns")
	}
	if len(s.PartitionKey) == 0 {
		return loaderr.Configf("schema", "table %q has no partition key", s.Table)
	}

	byName := make(map[string]int, len(s.Columns))
	for i, col := range s.Columns {
		if col.Name == "" {
			return loaderr.Configf("schema", "column %d has no name", i)
		}
		if !col.Type.Valid() {
			return loaderr.Configf("schema", "column %q has invalid type %s", col.Name, col.Type)
		}
		if _, dup := byName[col.Name]; dup {
			return loaderr.Configf("schema", "duplicate column %q", col.Name)
		}
		byName[col.Name] = i
	}

	inKey := make(map[int]bool)
	resolve := func(names []string, role string) ([]int, error) {
		idx := make([]int, 0, len(names))
		for _, name := range names {
			i, ok := byName[name]
			if !ok {
				return nil, loaderr.Configf("schema", "%s column %q is not a column of %q", role, name, s.Table)
			}
			if inKey[i] {
				return nil, loaderr.Configf("schema", "column %q used twice in the primary key", name)
			}
			if s.Columns[i].Type.IsList() {
				return nil, loaderr.Configf("schema", "%s column %q cannot be a list", role, name)
			}
			inKey[i] = true
			idx = append(idx, i)
		}
		return idx, nil
	}

	partitionIdx, err := resolve(s.PartitionKey, "partition key")
	if err != nil {
		return err
	}
	clusteringIdx, err := resolve(s.Clustering, "clustering")
	if err != nil {
		return err
	}

	isPartition := make(map[int]bool, len(partitionIdx))
	for _, i := range partitionIdx {
		isPartition[i] = true
	}
	cellIdx := make([]int, 0, len(s.Columns)-len(partitionIdx))
	for i := range s.Columns {
		if !isPartition[i] {
			cellIdx = append(cellIdx, i)
		}
	}

	s.byName = byName
	s.partitionIdx = partitionIdx
	s.clusteringIdx = clusteringIdx
	s.cellIdx = cellIdx
	return nil
}

// PartitionIndices returns the column positions of the partition key, in key order.
func (s *Schema) PartitionIndices() []int { return s.partitionIdx }

// ClusteringIndices returns the column positions of the clustering key, in key order.
func (s *Schema) ClusteringIndices() []int { return s.clusteringIdx }

// CellIndices returns the positions of every column stored in a row body,
// that is every column except the partition key, in schema order.
func (s *Schema) CellIndices() []int { return s.cellIdx }

// ColumnIndex returns the position of a column by name.
func (s *Schema) ColumnIndex(name string) (int, bool) {
	i, ok := s.byName[name]
	return i, ok
}

// ColumnNames returns the column names in schema order.
func (s *Schema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// CheckRow verifies arity, non-null partition key columns and value types.
// ordinal is reported in the RowError.
func (s *Schema) CheckRow(row Row, ordinal int64) error {
	if len(row) != len(s.Columns) {
		return &loaderr.RowError{
			Ordinal:  ordinal,
			Expected: fmt.Sprintf("%d columns", len(s.Columns)),
			Actual:   fmt.Sprintf("%d columns", len(row)),
		}
	}
	for _, i := range s.partitionIdx {
		if row[i] == nil {
			return &loaderr.RowError{
				Ordinal:  ordinal,
				Column:   s.Columns[i].Name,
				Expected: "non-null partition key",
				Actual:   "null",
			}
		}
	}
	for i, col := range s.Columns {
		v := row[i]
		if !col.Type.Accepts(v) {
			return &loaderr.RowError{
				Ordinal:  ordinal,
				Column:   col.Name,
				Expected: col.Type.GoType(),
				Actual:   Describe(v),
			}
		}
		if str, ok := v.(string); ok && !utf8.ValidString(str) {
			return &loaderr.RowError{
				Ordinal:  ordinal,
				Column:   col.Name,
				Expected: "valid UTF-8 text",
				Actual:   fmt.Sprintf("%q", str),
			}
		}
	}
	return nil
}

// CreateStatement renders the CQL table definition for keyspace.
func (s *Schema) CreateStatement(keyspace string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s.%s (", keyspace, s.Table)
	for _, col := range s.Columns {
		fmt.Fprintf(&b, "%s %s, ", col.Name, col.Type)
	}
	b.WriteString("PRIMARY KEY (")
	if len(s.PartitionKey) == 1 {
		b.WriteString(s.PartitionKey[0])
	} else {
		b.WriteString("(" + strings.Join(s.PartitionKey, ", ") + ")")
	}
	for _, c := range s.Clustering {
		b.WriteString(", " + c)
	}
	b.WriteString("))")
	return b.String()
}

// InsertStatement renders the CQL insert used to load one row into keyspace.
func (s *Schema) InsertStatement(keyspace string) string {
	names := s.ColumnNames()
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")
	return fmt.Sprintf("INSERT INTO %s.%s (%s) VALUES (%s)", keyspace, s.Table, strings.Join(names, ", "), marks)
}
