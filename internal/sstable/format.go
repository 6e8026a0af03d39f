// Package sstable writes and reads generations: the immutable, token-ordered
// file sets one writer flush produces under <keyspace>/<table>/.
package sstable

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/basekick-labs/bulkloader/internal/storage"
)

// Component is the suffix identifying one file of a generation.
type Component string

const (
	ComponentData            Component = "Data.db"
	ComponentIndex           Component = "Index.db"
	ComponentSummary         Component = "Summary.db"
	ComponentStatistics      Component = "Statistics.db"
	ComponentFilter          Component = "Filter.db"
	ComponentCompressionInfo Component = "CompressionInfo.db"
	ComponentDigest          Component = "Digest.xxh64"
	ComponentParquet         Component = "Data.parquet"
	ComponentTOC             Component = "TOC.txt"
)

// formatVersion is the "bl" in generation file names.
const formatVersion = "bl"

// Format versions of the binary components.
const (
	summaryMagic      = "BLSM"
	compressionMagic  = "BLCI"
	statisticsVersion = 1
)

var (
	// ErrCorrupt is wrapped by every error caused by malformed component bytes.
	ErrCorrupt = errors.New("sstable: corrupt generation")

	// ErrNotFound is returned by Reader.Get for a key the generation does not hold.
	ErrNotFound = errors.New("sstable: partition not found")
)

func corruptf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorrupt, fmt.Sprintf(format, args...))
}

// Descriptor names one generation of a table.
type Descriptor struct {
	Keyspace   string
	Table      string
	Generation int
}

// Dir returns the table directory relative to the backend root.
func (d Descriptor) Dir() string {
	return TableDir(d.Keyspace, d.Table)
}

// FileName returns <keyspace>-<table>-bl-<generation>-<component>.
func (d Descriptor) FileName(c Component) string {
	return filePrefix(d.Keyspace, d.Table) + strconv.Itoa(d.Generation) + "-" + string(c)
}

// Path returns the backend path of a component.
func (d Descriptor) Path(c Component) string {
	return path.Join(d.Dir(), d.FileName(c))
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%s.%s#%d", d.Keyspace, d.Table, d.Generation)
}

// TableDir returns <keyspace>/<table>.
func TableDir(keyspace, table string) string {
	return path.Join(keyspace, table)
}

func filePrefix(keyspace, table string) string {
	return keyspace + "-" + table + "-" + formatVersion + "-"
}

// ParseFileName extracts the generation number and component from a file name
// belonging to keyspace and table.
func ParseFileName(keyspace, table, name string) (int, Component, bool) {
	rest, ok := strings.CutPrefix(name, filePrefix(keyspace, table))
	if !ok {
		return 0, "", false
	}
	genStr, comp, ok := strings.Cut(rest, "-")
	if !ok || comp == "" {
		return 0, "", false
	}
	gen, err := strconv.Atoi(genStr)
	if err != nil || gen <= 0 {
		return 0, "", false
	}
	return gen, Component(comp), true
}

// GenerationFiles is what a directory listing shows of one generation.
type GenerationFiles struct {
	Descriptor Descriptor
	Components []Component
	Paths      []string
}

// Complete reports whether the TOC was written, which happens last.
func (g GenerationFiles) Complete() bool {
	for _, c := range g.Components {
		if c == ComponentTOC {
			return true
		}
	}
	return false
}

// ListGenerations lists every generation present in the table directory,
// complete or not, ordered by generation number.
func ListGenerations(ctx context.Context, backend storage.Backend, keyspace, table string) ([]GenerationFiles, error) {
	dir := TableDir(keyspace, table)
	objects, err := backend.List(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	byNumber := make(map[int]*GenerationFiles)
	for _, obj := range objects {
		if path.Dir(obj) != dir {
			continue
		}
		gen, comp, ok := ParseFileName(keyspace, table, path.Base(obj))
		if !ok {
			continue
		}
		g, exists := byNumber[gen]
		if !exists {
			g = &GenerationFiles{Descriptor: Descriptor{Keyspace: keyspace, Table: table, Generation: gen}}
			byNumber[gen] = g
		}
		g.Components = append(g.Components, comp)
		g.Paths = append(g.Paths, obj)
	}

	result := make([]GenerationFiles, 0, len(byNumber))
	for _, g := range byNumber {
		result = append(result, *g)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Descriptor.Generation < result[j].Descriptor.Generation
	})
	return result, nil
}

// NextGeneration returns one more than the highest generation in the table directory.
func NextGeneration(ctx context.Context, backend storage.Backend, keyspace, table string) (int, error) {
	gens, err := ListGenerations(ctx, backend, keyspace, table)
	if err != nil {
		return 0, err
	}
	if len(gens) == 0 {
		return 1, nil
	}
	return gens[len(gens)-1].Descriptor.Generation + 1, nil
}

// RemoveIncomplete deletes the files of every generation that has no TOC and
// returns the generation numbers removed.
func RemoveIncomplete(ctx context.Context, backend storage.Backend, keyspace, table string) ([]int, error) {
	gens, err := ListGenerations(ctx, backend, keyspace, table)
	if err != nil {
		return nil, err
	}

	var removed []int
	for _, g := range gens {
		if g.Complete() {
			continue
		}
		for _, p := range g.Paths {
			if err := backend.Delete(ctx, p); err != nil {
				return removed, fmt.Errorf("failed to delete %s: %w", p, err)
			}
		}
		removed = append(removed, g.Descriptor.Generation)
	}
	return removed, nil
}
