package schema

import (
	"sort"

	"github.com/basekick-labs/bulkloader/internal/loaderr"
)

var (
	intList  = ListOf(Int)
	textList = ListOf(Text)
)

func idAnnotation(table string) *Schema {
	return MustNew(table, []Column{
		{"id", Int},
		{"source", Text},
		{"md5", Text},
		{"is_protein", Boolean},
		{"single", Text},
		{"lca", textList},
		{"accession", textList},
		{"function", textList},
		{"organism", textList},
	}, []string{"id"}, []string{"source"})
}

// registry maps a table name to its schema. PRIMARY KEY (a, b) in the store's DDL
// means partition key a and clustering column b.
var registry = map[string]*Schema{
	"index_annotation": MustNew("index_annotation", []Column{
		{"id", Int},
		{"source", Text},
		{"md5", Text},
		{"is_protein", Boolean},
		{"single", Int},
		{"accession", intList},
		{"function", intList},
		{"organism", intList},
	}, []string{"id"}, []string{"source"}),

	"id_annotation":     idAnnotation("id_annotation"),
	"md5_id_annotation": idAnnotation("md5_id_annotation"),

	"midx_annotation": MustNew("midx_annotation", []Column{
		{"md5", Text},
		{"source", Text},
		{"is_protein", Boolean},
		{"single", Int},
		{"accession", intList},
		{"function", intList},
		{"organism", intList},
	}, []string{"md5"}, []string{"source"}),

	"md5_annotation": MustNew("md5_annotation", []Column{
		{"md5", Text},
		{"source", Text},
		{"is_protein", Boolean},
		{"single", Text},
		{"lca", textList},
		{"accession", textList},
		{"function", textList},
		{"organism", textList},
	}, []string{"md5"}, []string{"source"}),

	"job_md5s": MustNew("job_md5s", []Column{
		{"version", Int},
		{"job", Int},
		{"md5", Text},
		{"abundance", Int},
		{"exp_avg", Float},
		{"ident_avg", Float},
		{"len_avg", Float},
		{"seek", BigInt},
		{"length", Int},
	}, []string{"version", "job"}, []string{"md5"}),

	"job_features": MustNew("job_features", []Column{
		{"version", Int},
		{"job", Int},
		{"md5", Text},
		{"feature", Text},
		{"exp", Int},
		{"ident", Int},
		{"len", Int},
		{"md5_idx", Int},
	}, []string{"version", "job"}, []string{"md5", "feature"}),
}

// Lookup returns the schema registered for table, or a ConfigError.
func Lookup(table string) (*Schema, error) {
	s, ok := registry[table]
	if !ok {
		return nil, loaderr.Configf("lookup", "unsupported table type: %s", table)
	}
	return s, nil
}

// Tables lists the registered table names, sorted.
func Tables() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
