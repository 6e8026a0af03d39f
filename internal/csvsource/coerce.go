package csvsource

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/basekick-labs/bulkloader/internal/loaderr"
	"github.com/basekick-labs/bulkloader/internal/schema"
)

var errMissingBrackets = errors.New("list must be enclosed in [ ]")

// Coerce converts the text fields of one input line into a typed row in schema
// column order. line is reported as the RowError ordinal.
func Coerce(s *schema.Schema, fields []string, line int64) (schema.Row, error) {
	if len(fields) != len(s.Columns) {
		return nil, &loaderr.RowError{
			Ordinal:  line,
			Expected: fmt.Sprintf("%d columns", len(s.Columns)),
			Actual:   fmt.Sprintf("%d columns", len(fields)),
		}
	}

	row := make(schema.Row, len(fields))
	for i, col := range s.Columns {
		v, err := coerceField(col.Type, fields[i])
		if err != nil {
			return nil, &loaderr.RowError{
				Ordinal:  line,
				Column:   col.Name,
				Expected: col.Type.String(),
				Actual:   strconv.Quote(fields[i]),
				Err:      err,
			}
		}
		row[i] = v
	}
	return row, nil
}

func coerceField(t schema.Type, field string) (any, error) {
	if t.IsList() {
		return coerceList(t.ElemType(), field)
	}
	return coerceScalar(t, field)
}

func coerceScalar(t schema.Type, field string) (any, error) {
	switch t.Kind {
	case schema.KindInt:
		n, err := strconv.ParseInt(strings.TrimSpace(field), 10, 32)
		if err != nil {
			return nil, err
		}
		return int32(n), nil
	case schema.KindBigInt:
		return strconv.ParseInt(strings.TrimSpace(field), 10, 64)
	case schema.KindFloat:
		f, err := strconv.ParseFloat(strings.TrimSpace(field), 32)
		if err != nil {
			return nil, err
		}
		return float32(f), nil
	case schema.KindBoolean:
		// Anything other than "true" is false.
		return strings.EqualFold(strings.TrimSpace(field), "true"), nil
	case schema.KindText:
		return field, nil
	default:
		return nil, fmt.Errorf("unsupported column type %s", t)
	}
}

// coerceList parses "[a, b, c]". An empty field or "[]" is an empty list, never null.
// Items are trimmed and lose one pair of matching quotes.
func coerceList(elem schema.Type, field string) (any, error) {
	items, err := splitList(field)
	if err != nil {
		return nil, err
	}

	switch elem.Kind {
	case schema.KindInt:
		return convertItems(items, elem, func(v any) int32 { return v.(int32) })
	case schema.KindBigInt:
		return convertItems(items, elem, func(v any) int64 { return v.(int64) })
	case schema.KindFloat:
		return convertItems(items, elem, func(v any) float32 { return v.(float32) })
	case schema.KindBoolean:
		return convertItems(items, elem, func(v any) bool { return v.(bool) })
	case schema.KindText:
		return items, nil
	default:
		return nil, fmt.Errorf("unsupported list element type %s", elem)
	}
}

func convertItems[T any](items []string, elem schema.Type, cast func(any) T) ([]T, error) {
	out := make([]T, 0, len(items))
	for i, item := range items {
		v, err := coerceScalar(elem, item)
		if err != nil {
			return nil, fmt.Errorf("list item %d: %w", i, err)
		}
		out = append(out, cast(v))
	}
	return out, nil
}

func splitList(field string) ([]string, error) {
	field = strings.TrimSpace(field)
	if field == "" {
		return []string{}, nil
	}
	if len(field) < 2 || field[0] != '[' || field[len(field)-1] != ']' {
		return nil, errMissingBrackets
	}
	inner := strings.TrimSpace(field[1 : len(field)-1])
	if inner == "" {
		return []string{}, nil
	}

	parts := strings.Split(inner, ",")
	items := make([]string, len(parts))
	for i, part := range parts {
		items[i] = unquote(strings.TrimSpace(part))
	}
	return items, nil
}

func unquote(item string) string {
	if len(item) >= 2 {
		first, last := item[0], item[len(item)-1]
		if first == last && (first == '\'' || first == '"') {
			return strings.TrimSpace(item[1 : len(item)-1])
		}
	}
	return item
}
